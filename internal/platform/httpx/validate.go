package httpx

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldErrors is a validation failure keyed by JSON field name.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %s", k, e[k]))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Unwrap maps FieldErrors to ErrValidation.
func (e FieldErrors) Unwrap() error { return ErrValidation }

// ProblemExtensions implements Extender.
func (e FieldErrors) ProblemExtensions() map[string]any {
	return map[string]any{"errors": map[string]string(e)}
}

// NewValidator returns a validator that reports JSON field names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate runs struct validation and converts failures to FieldErrors.
func Validate(v *validator.Validate, target any) error {
	err := v.Struct(target)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	out := make(FieldErrors, len(verrs))
	for _, fe := range verrs {
		msg := fe.Tag()
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
		}
		out[fe.Field()] = "failed " + msg
	}
	return out
}
