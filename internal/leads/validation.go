package leads

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

var phonePattern = regexp.MustCompile(`^\d{10,15}$`)

// enumTags maps custom validator tags to their closed value sets.
var enumTags = map[string][]string{
	"city":          Cities,
	"property_type": PropertyTypes,
	"bhk":           BHKs,
	"purpose":       Purposes,
	"timeline":      Timelines,
	"source":        Sources,
	"status":        Statuses,
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	mustRegister(v, "phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	for tag, allowed := range enumTags {
		mustRegister(v, tag, func(fl validator.FieldLevel) bool {
			return slices.Contains(allowed, fl.Field().String())
		})
	}
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("leads: register %s validation: %v", tag, err))
	}
}

// messageFunc renders one failed struct tag as a user-facing message.
type messageFunc func(fe validator.FieldError) string

// fieldErrors runs struct validation and formats failures as "field: message"
// in declaration order. Non-validation errors are reported as a single entry.
func fieldErrors(s any, msg messageFunc) []string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{"Unknown validation error"}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fe.Field()+": "+msg(fe))
	}
	return out
}

func enumMessage(allowed []string, received string) string {
	quoted := make([]string, len(allowed))
	for i, v := range allowed {
		quoted[i] = "'" + v + "'"
	}
	return fmt.Sprintf("Invalid enum value. Expected %s, received '%s'", strings.Join(quoted, " | "), received)
}

// valueString extracts the failing value, dereferencing pointers.
func valueString(fe validator.FieldError) string {
	v := reflect.ValueOf(fe.Value())
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	return fmt.Sprint(v.Interface())
}
