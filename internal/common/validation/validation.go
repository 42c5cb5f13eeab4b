// Package validation checks values imported from external systems before they are stored
package validation

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json names instead of Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s: %s (value: %s)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors struct {
	Errors []*ValidationError `json:"errors"`
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("validation failed with %d errors", len(e.Errors))
}

// First returns the first error, or nil
func (e *ValidationErrors) First() *ValidationError {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors[0]
}

// Struct validates v against its `validate` tags and returns *ValidationErrors
// naming each failing field by its `json` tag.
func Struct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return err
	}

	out := &ValidationErrors{}
	for _, fe := range fieldErrs {
		out.Errors = append(out.Errors, &ValidationError{
			Field:   fe.Field(),
			Message: describe(fe),
			Value:   fmt.Sprint(fe.Value()),
		})
	}
	return out
}

// Email checks that value is empty or a valid e-mail address
func Email(field, value string) error {
	if err := validate.Var(value, "omitempty,email"); err != nil {
		return &ValidationError{Field: field, Message: "must be a valid email address", Value: value}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "printascii":
		return "must contain printable ASCII characters only"
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

var spaceRegex = regexp.MustCompile(`\s+`)

// SanitizeString trims the value and collapses inner whitespace
func SanitizeString(value string) string {
	return spaceRegex.ReplaceAllString(strings.TrimSpace(value), " ")
}

// SanitizeEmail normalizes an email address
func SanitizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
