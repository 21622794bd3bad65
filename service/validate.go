package service

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/saiset-co/vinyl-tracker/types"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateInput(input interface{}) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return types.Errorf(types.ErrInvalidParameter, "%v", err)
	}

	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fe.Field()+":"+fe.Tag())
	}
	return types.Errorf(types.ErrInvalidParameter, "%s", strings.Join(fields, ", "))
}

func validateID(name string, id int) error {
	if id <= 0 {
		return types.Errorf(types.ErrInvalidParameter, "%s must be positive, got %d", name, id)
	}
	return nil
}
