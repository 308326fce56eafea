package service

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
)

// validate runs a request's rules and reports failures as a field-keyed
// ValidationError.
func validate(v validation.Validatable) error {
	err := v.Validate()
	if err == nil {
		return nil
	}
	var errs validation.Errors
	if errors.As(err, &errs) {
		fields := make(map[string]string, len(errs))
		for k, e := range errs {
			fields[k] = e.Error()
		}
		return apperr.ValidationFields("invalid request", fields)
	}
	return apperr.Validation("invalid request: %v", err)
}
