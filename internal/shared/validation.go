package shared

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/filingdesk/filingdesk/internal/platform/httpx"
)

// GSTINPattern matches a 15 character Indian GST identification number.
var GSTINPattern = regexp.MustCompile(`^[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z][1-9A-Z]Z[0-9A-Z]$`)

// ValidationError collects every violated field of one input.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError returns an empty error ready for Add.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

// Add records a message for field, keeping the first message per field.
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = message
	}
}

// Empty reports whether no field failed.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

// OrNil returns nil when no field failed so callers can return it directly.
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is match httpx.ErrValidation.
func (e *ValidationError) Unwrap() error { return httpx.ErrValidation }

// FieldErrors exposes the per-field messages to the problem responder.
func (e *ValidationError) FieldErrors() map[string]string { return e.Fields }

// NewValidator returns a validator that reports fields by their JSON name and
// knows the gstin tag.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("gstin", func(fl validator.FieldLevel) bool {
		return GSTINPattern.MatchString(fl.Field().String())
	})
	return v
}

// CollectValidation converts the result of validator.Struct into a
// ValidationError. Namespaces drop the root struct name so nested fields
// read as items[2].hs_code. Errors that are not validation errors are
// returned unchanged.
func CollectValidation(err error, into *ValidationError, messages map[string]string) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	for _, fe := range fieldErrs {
		into.Add(fieldPath(fe.Namespace()), FieldMessage(fe, messages))
	}
	return nil
}

func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

// FieldMessage renders a human message for one failed tag. Tag specific
// overrides come from messages.
func FieldMessage(fe validator.FieldError, messages map[string]string) string {
	if msg, ok := messages[fe.Tag()]; ok {
		return msg
	}
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "min":
		if fe.Kind() == reflect.Slice {
			if fe.Param() == "1" {
				return "must contain at least one entry"
			}
			return fmt.Sprintf("must contain at least %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gstin":
		return "must be a valid GSTIN"
	case "decimal":
		var precision, scale int
		if _, err := fmt.Sscanf(fe.Param(), "%d %d", &precision, &scale); err != nil {
			return "is invalid"
		}
		return fmt.Sprintf("must have at most %d digits before and %d after the decimal point", precision-scale, scale)
	default:
		return "is invalid"
	}
}
