package llm

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance used across the package.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// nonblank rejects strings made only of whitespace, such as an empty
	// stop sequence that would end every generation at once.
	if err := v.RegisterValidation("nonblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}); err != nil {
		panic(err)
	}
	return v
}

// Validate checks if the given struct is valid according to its validation rules.
func Validate(s any) error {
	return validate.Struct(s)
}
