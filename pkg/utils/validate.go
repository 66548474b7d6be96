package utils

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/clover/pkg/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the validate tags of value
func Validate[T any](value T) (T, error) {
	if err := validate.Struct(value); err != nil {
		return value, ValidationError(value, err)
	}
	return value, nil
}

// ValidateValue checks a single value against a validator tag
func ValidateValue(value any, tag string) error {
	if err := validate.Var(value, tag); err != nil {
		return ValidationError(value, err)
	}
	return nil
}

// ValidationError turns validator failures into one KindValidation error
// listing every failed rule
func ValidationError(input any, err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.Wrap(errors.KindValidation, err, "invalid input")
	}

	failures := make([]string, 0, len(verrs))
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		failures = append(failures, fmt.Sprintf("field '%s' failed rule '%s' (param '%s', got '%v')", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
		fields = append(fields, fe.Field())
	}

	return errors.Newf(errors.KindValidation, "invalid %T: %s", input, strings.Join(failures, "; ")).
		AddMeta("fields", fields)
}
