package validation

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	errors "github.com/frahmantamala/expense-approval/internal"
	"github.com/frahmantamala/expense-approval/internal/workflow"
	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// Validate returns the shared struct validator. Field names in errors come
// from json tags and the workflow enums are registered as custom tags.
func Validate() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})
		_ = validate.RegisterValidation("workflow_status", func(fl validator.FieldLevel) bool {
			_, ok := workflow.ParseStatus(fl.Field().String())
			return ok
		})
		_ = validate.RegisterValidation("workflow_role", func(fl validator.FieldLevel) bool {
			_, ok := workflow.ParseRole(fl.Field().String())
			return ok
		})
	})
	return validate
}

// Struct validates s and converts failures into a VALIDATION_FAILED AppError
// carrying one entry per offending field.
func Struct(s interface{}) *errors.AppError {
	err := Validate().Struct(s)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.NewValidationError(err.Error(), errors.ErrCodeValidationFailed)
	}

	out := make([]errors.ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, errors.ValidationError{
			Field:   fe.Field(),
			Message: message(fe),
			Code:    string(codeFor(fe)),
		})
	}
	return errors.NewValidationError("Validation failed", errors.ErrCodeValidationFailed).
		WithDetails(errors.ValidationErrors{Errors: out})
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gt", "min":
		if fe.Kind() == reflect.String || fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
		}
		if fe.Tag() == "gt" {
			return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max", "lte":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must not exceed %s characters", fe.Field(), fe.Param())
		}
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must not have more than %s entries", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("%s must not exceed %s", fe.Field(), fe.Param())
	case "workflow_status":
		return fmt.Sprintf("%s must be one of %s", fe.Field(), joinStatuses())
	case "workflow_role":
		return fmt.Sprintf("%s must be a known role", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}

func codeFor(fe validator.FieldError) errors.ErrorCode {
	switch {
	case fe.Field() == "amount":
		return errors.ErrCodeInvalidAmount
	case fe.Field() == "version":
		return errors.ErrCodeInvalidVersion
	case fe.Tag() == "workflow_status":
		return errors.ErrCodeInvalidStatus
	}
	return errors.ErrCodeValidationFailed
}

func joinStatuses() string {
	all := workflow.AllStatuses()
	names := make([]string, len(all))
	for i, s := range all {
		names[i] = s.String()
	}
	return "[" + strings.Join(names, " ") + "]"
}

// Var validates a single value against tag and reports failures under field.
func Var(field string, value interface{}, tag string) *errors.AppError {
	err := Validate().Var(value, tag)
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf("%s is invalid", field)
	if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
		msg = field + " " + strings.TrimSpace(message(fieldErrs[0]))
	}
	return errors.NewValidationFieldError(field, msg, errors.ErrCodeValidationFailed)
}
