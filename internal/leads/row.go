package leads

import (
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Columns is the CSV header used for import and export, in order.
var Columns = []string{
	"fullName", "email", "phone", "city", "propertyType", "bhk", "purpose",
	"budgetMin", "budgetMax", "timeline", "source", "notes", "tags", "status",
}

// Business rule messages.
const (
	msgBudgetMinInvalid = "budgetMin must be a valid positive number"
	msgBudgetMaxInvalid = "budgetMax must be a valid positive number"
	msgBudgetOrder      = "budgetMax must be greater than or equal to budgetMin"
	msgBHKRequired      = "bhk is required for Apartment and Villa properties"
)

// csvRow is the structural shape of one import row. Required columns are
// pointers so a missing column is distinguishable from an empty cell.
type csvRow struct {
	FullName     *string `json:"fullName" validate:"required,min=2,max=80"`
	Email        string  `json:"email" validate:"omitempty,email"`
	Phone        *string `json:"phone" validate:"required,phone"`
	City         *string `json:"city" validate:"required,city"`
	PropertyType *string `json:"propertyType" validate:"required,property_type"`
	BHK          string  `json:"bhk" validate:"omitempty,bhk"`
	Purpose      *string `json:"purpose" validate:"required,purpose"`
	BudgetMin    string  `json:"budgetMin"`
	BudgetMax    string  `json:"budgetMax"`
	Timeline     *string `json:"timeline" validate:"required,timeline"`
	Source       *string `json:"source" validate:"required,source"`
	Notes        string  `json:"notes" validate:"omitempty,max=1000"`
	Tags         string  `json:"tags"`
	Status       string  `json:"status" validate:"omitempty,status"`
}

func newCSVRow(raw map[string]string) csvRow {
	req := func(key string) *string {
		if v, ok := raw[key]; ok {
			return &v
		}
		return nil
	}
	return csvRow{
		FullName:     req("fullName"),
		Email:        raw["email"],
		Phone:        req("phone"),
		City:         req("city"),
		PropertyType: req("propertyType"),
		BHK:          raw["bhk"],
		Purpose:      req("purpose"),
		BudgetMin:    raw["budgetMin"],
		BudgetMax:    raw["budgetMax"],
		Timeline:     req("timeline"),
		Source:       req("source"),
		Notes:        raw["notes"],
		Tags:         raw["tags"],
		Status:       raw["status"],
	}
}

// RowResult is the outcome of validating one row: either a Lead or errors.
type RowResult struct {
	Lead   *Lead
	Errors []string
}

// Valid reports whether the row produced a lead.
func (r RowResult) Valid() bool { return r.Lead != nil }

// ValidateRow validates one untyped CSV row keyed by header name.
//
// Structural failures are returned on their own as "field: message". Only a
// structurally valid row is checked against the budget and BHK rules, which
// accumulate. No lead is returned when any check fails.
func ValidateRow(raw map[string]string) RowResult {
	row := newCSVRow(raw)
	if errs := fieldErrors(&row, rowMessage); len(errs) > 0 {
		return RowResult{Errors: errs}
	}

	var errs []string
	budgetMin, okMin := parseBudget(row.BudgetMin)
	if !okMin {
		errs = append(errs, msgBudgetMinInvalid)
	}
	budgetMax, okMax := parseBudget(row.BudgetMax)
	if !okMax {
		errs = append(errs, msgBudgetMaxInvalid)
	}
	// A zero bound is treated as unset for the ordering check.
	if okMin && okMax && budgetMin != nil && budgetMax != nil &&
		*budgetMin != 0 && *budgetMax != 0 && *budgetMax < *budgetMin {
		errs = append(errs, msgBudgetOrder)
	}
	if RequiresBHK(*row.PropertyType) && row.BHK == "" {
		errs = append(errs, msgBHKRequired)
	}
	if len(errs) > 0 {
		return RowResult{Errors: errs}
	}

	status := row.Status
	if status == "" {
		status = StatusNew
	}
	return RowResult{Lead: &Lead{
		FullName:     *row.FullName,
		Email:        optional(row.Email),
		Phone:        *row.Phone,
		City:         *row.City,
		PropertyType: *row.PropertyType,
		BHK:          optional(row.BHK),
		Purpose:      *row.Purpose,
		BudgetMin:    budgetMin,
		BudgetMax:    budgetMax,
		Timeline:     *row.Timeline,
		Source:       *row.Source,
		Notes:        optional(row.Notes),
		Tags:         SplitTags(row.Tags),
		Status:       status,
	}}
}

func rowMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "Required"
	case "min":
		return "String must contain at least " + fe.Param() + " character(s)"
	case "max":
		return "String must contain at most " + fe.Param() + " character(s)"
	case "email":
		return "Invalid email"
	case "phone":
		return "Phone must be 10-15 digits"
	}
	if allowed, ok := enumTags[fe.Tag()]; ok {
		// Optional enums accept "" as an alternative, so a miss reports the
		// generic union failure rather than the value list.
		if fe.Field() == "bhk" || fe.Field() == "status" {
			return "Invalid input"
		}
		return enumMessage(allowed, valueString(fe))
	}
	return "Invalid input"
}

// parseBudget reads a leading integer the way a lenient form parser does:
// leading whitespace and sign allowed, trailing garbage ignored. An empty
// value is absent, not invalid. Negative, non-numeric and out of range
// (int4) values are invalid.
func parseBudget(raw string) (*int, bool) {
	if raw == "" {
		return nil, true
	}
	s := strings.TrimLeft(raw, " \t\n\r\v\f")
	negative := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		negative = s[0] == '-'
		s = s[1:]
	}
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return nil, false
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil || n > math.MaxInt32 {
		return nil, false
	}
	if negative && n != 0 {
		return nil, false
	}
	v := int(n)
	return &v, true
}

// SplitTags splits a comma separated list, trimming entries and dropping blanks.
func SplitTags(raw string) []string {
	tags := []string{}
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			tags = append(tags, part)
		}
	}
	return tags
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
