package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"forumkarma/internal/models"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// report json names rather than Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	_ = v.RegisterValidation("collection", func(fl validator.FieldLevel) bool {
		return models.CollectionName(fl.Field().String()).IsVoteable()
	})

	return v
}

// FieldError describes one failed rule
type FieldError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
}

// FieldErrors is returned by ValidateStruct when one or more rules fail
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	msgs := make([]string, 0, len(fe))
	for _, e := range fe {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed validation: %s", e.Field, e.Tag))
	}
	return strings.Join(msgs, "; ")
}

// ValidateStruct validates a struct using go-playground/validator
func ValidateStruct(s interface{}) error {
	if s == nil {
		return nil
	}

	// Check if it's a pointer to a struct
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validator: expected a struct, got %T", s)
	}

	err := validate.Struct(s)
	if err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			out := make(FieldErrors, 0, len(ve))
			for _, e := range ve {
				out = append(out, FieldError{Field: e.Field(), Tag: e.Tag()})
			}
			return out
		}
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}
