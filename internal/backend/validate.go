package backend

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a Relationship or ClassSpec before it is sent.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// ValidateNew checks a relationship about to be created.
func ValidateNew(rel Relationship) error {
	if err := Validate(rel); err != nil {
		return err
	}
	if rel.Source == rel.Target {
		return fmt.Errorf("%w: relationship from %s to itself", ErrInvalidRequest, rel.Source)
	}
	return nil
}
