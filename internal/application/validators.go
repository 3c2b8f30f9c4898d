package application

import (
	"errors"
	"fmt"
	"regexp"
	"slices"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/castrank/internal/domain"
)

// eventIDPattern accepts lowercase slugs such as "goat-strategy".
var eventIDPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

var supportedBackends = []string{BackendMemory, BackendPostgres, BackendRedis, BackendMongo}

// validate is shared by configuration and notification checks. Validators
// are safe for concurrent use once registration has finished.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := RegisterValidators(v); err != nil {
		panic(err)
	}
	return v
}

// RegisterValidators registers custom validation functions with the
// validator instance for use in configuration struct tags.
// RegisterValidators returns an error if any validator registration fails.
func RegisterValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("eventid", validateEventID); err != nil {
		return fmt.Errorf("failed to register eventid validator: %w", err)
	}
	if err := v.RegisterValidation("storebackend", validateStoreBackend); err != nil {
		return fmt.Errorf("failed to register storebackend validator: %w", err)
	}
	return nil
}

// validateEventID validates that a ranking-event ID is a lowercase slug.
func validateEventID(fl validator.FieldLevel) bool {
	return eventIDPattern.MatchString(fl.Field().String())
}

// validateStoreBackend validates that a backend name is one this build
// can construct.
func validateStoreBackend(fl validator.FieldLevel) bool {
	return slices.Contains(supportedBackends, fl.Field().String())
}

// validateStruct runs tag validation and flattens failures into a single
// domain.ValidationError naming every offending field.
func validateStruct(entity string, s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("struct validation failed: %w", err)
	}

	verr := domain.NewValidationError(entity)
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			verr.AddError(fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		verr.AddError(fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return verr
}
