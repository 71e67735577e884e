package utils

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

type CustomErrorResponse struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func ValidationErr(err validator.ValidationErrors) []CustomErrorResponse {
	var errors []CustomErrorResponse
	for _, fieldErr := range err {
		errors = append(errors, CustomErrorResponse{
			Field:   fieldErr.Field(),
			Tag:     fieldErr.ActualTag(),
			Message: GetErrorMessage(fieldErr),
		})
	}
	return errors
}

func GetErrorMessage(fe validator.FieldError) string {
	switch fe.ActualTag() {
	case "required":
		return "This field is required."
	case "email":
		return "Must be a valid email address."
	case "min":
		return fmt.Sprintf("Must be at least %s characters long.", fe.Param())
	case "max":
		return fmt.Sprintf("Must be at most %s characters long.", fe.Param())
	case "len":
		return fmt.Sprintf("Must be exactly %s characters long.", fe.Param())
	case "numeric":
		return "Must contain digits only."
	case "alphanum":
		return "Must contain letters and digits only."
	case "oneof":
		return fmt.Sprintf("Must be one of: %s.", fe.Param())
	case "gt":
		return fmt.Sprintf("Must be greater than %s.", fe.Param())
	case "emoji":
		return "Must be a single emoji."
	case "dive":
		return "Contains an invalid element."
	default:
		return "Unknown validation error."
	}
}
