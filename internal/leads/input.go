package leads

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// BuyerInput is the JSON body accepted by create and update.
type BuyerInput struct {
	FullName     string   `json:"fullName" validate:"min=2,max=80"`
	Email        *string  `json:"email" validate:"omitempty,email"`
	Phone        string   `json:"phone" validate:"phone"`
	City         string   `json:"city" validate:"city"`
	PropertyType string   `json:"propertyType" validate:"property_type"`
	BHK          *string  `json:"bhk" validate:"omitempty,bhk"`
	Purpose      string   `json:"purpose" validate:"purpose"`
	BudgetMin    *int     `json:"budgetMin" validate:"omitempty,gt=0,lte=2147483647"`
	BudgetMax    *int     `json:"budgetMax" validate:"omitempty,gt=0,lte=2147483647"`
	Timeline     string   `json:"timeline" validate:"timeline"`
	Source       string   `json:"source" validate:"source"`
	Notes        *string  `json:"notes" validate:"omitempty,max=1000"`
	Tags         []string `json:"tags"`
	Status       string   `json:"status" validate:"omitempty,status"`
}

// normalize blanks out empty optional strings and defaults the status.
func (in *BuyerInput) normalize() {
	for _, p := range []**string{&in.Email, &in.BHK, &in.Notes} {
		if *p != nil && **p == "" {
			*p = nil
		}
	}
	if in.Status == "" {
		in.Status = StatusNew
	}
	tags := make([]string, 0, len(in.Tags))
	for _, t := range in.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	in.Tags = tags
}

// Validate normalizes the input and checks field and cross-field rules.
// It returns *ValidationError when the input is rejected.
func (in *BuyerInput) Validate() error {
	in.normalize()
	details := fieldErrors(in, inputMessage)
	if len(details) == 0 {
		if in.BudgetMin != nil && in.BudgetMax != nil && *in.BudgetMax < *in.BudgetMin {
			details = append(details, "budgetMax: Budget max must be greater than or equal to budget min")
		}
		if RequiresBHK(in.PropertyType) && in.BHK == nil {
			details = append(details, "bhk: BHK is required for Apartment/Villa")
		}
	}
	if len(details) > 0 {
		return &ValidationError{Details: details}
	}
	return nil
}

// Lead returns the validated lead. Call Validate first.
func (in *BuyerInput) Lead() Lead {
	return Lead{
		FullName:     in.FullName,
		Email:        in.Email,
		Phone:        in.Phone,
		City:         in.City,
		PropertyType: in.PropertyType,
		BHK:          in.BHK,
		Purpose:      in.Purpose,
		BudgetMin:    in.BudgetMin,
		BudgetMax:    in.BudgetMax,
		Timeline:     in.Timeline,
		Source:       in.Source,
		Notes:        in.Notes,
		Tags:         in.Tags,
		Status:       in.Status,
	}
}

func inputMessage(fe validator.FieldError) string {
	switch fe.Field() + "." + fe.Tag() {
	case "fullName.min":
		return "Full name must be at least 2 characters"
	case "fullName.max":
		return "Full name must not exceed 80 characters"
	case "email.email":
		return "Please enter a valid email"
	case "phone.phone":
		return "Phone must be 10-15 digits"
	case "notes.max":
		return "Notes must not exceed 1000 characters"
	}
	switch fe.Tag() {
	case "gt":
		return "Number must be greater than 0"
	case "lte":
		return "Number must be less than or equal to 2147483647"
	}
	if allowed, ok := enumTags[fe.Tag()]; ok {
		return enumMessage(allowed, valueString(fe))
	}
	return "Invalid input"
}

// clone deep-copies pointer and slice fields so decoding into the copy
// cannot write through to the original.
func (in BuyerInput) clone() BuyerInput {
	out := in
	out.Email = cloneString(in.Email)
	out.BHK = cloneString(in.BHK)
	out.Notes = cloneString(in.Notes)
	out.BudgetMin = cloneInt(in.BudgetMin)
	out.BudgetMax = cloneInt(in.BudgetMax)
	out.Tags = append([]string{}, in.Tags...)
	return out
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// inputFields lists the JSON keys of BuyerInput, used to diff updates.
var inputFields = func() []string {
	t := reflect.TypeOf(BuyerInput{})
	out := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		out = append(out, name)
	}
	return out
}()

// ApplyPatch overlays the keys present in patch onto the current record
// and reports the merged input plus the keys the caller sent.
func ApplyPatch(current BuyerInput, patch map[string]json.RawMessage) (BuyerInput, []string, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return current, nil, err
	}
	merged := current.clone()
	if err := json.Unmarshal(body, &merged); err != nil {
		return current, nil, &ValidationError{Details: []string{"Invalid request body: " + err.Error()}}
	}
	var sent []string
	for _, field := range inputFields {
		if _, ok := patch[field]; ok {
			sent = append(sent, field)
		}
	}
	return merged, sent, nil
}

// Diff compares the given keys of two inputs by their JSON representation.
func Diff(before, after BuyerInput, keys []string) (map[string]FieldChange, error) {
	oldDoc, err := toDoc(before)
	if err != nil {
		return nil, err
	}
	newDoc, err := toDoc(after)
	if err != nil {
		return nil, err
	}
	changes := map[string]FieldChange{}
	for _, key := range keys {
		if !reflect.DeepEqual(oldDoc[key], newDoc[key]) {
			changes[key] = FieldChange{Old: oldDoc[key], New: newDoc[key]}
		}
	}
	return changes, nil
}

func toDoc(in BuyerInput) (map[string]any, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	return doc, json.Unmarshal(raw, &doc)
}
