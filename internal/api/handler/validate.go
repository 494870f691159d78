package handler

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Rrens/llm-gateway/internal/api/response"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeAndValidate reads a JSON body into dst and validates it. On failure
// the 400 answer has already been written.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.BadRequest(w, "invalid request body")
		return false
	}

	if err := validate.Struct(dst); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			response.BadRequest(w, fieldErrors(validationErrors))
			return false
		}
		response.BadRequest(w, err.Error())
		return false
	}
	return true
}

// fieldErrors maps each failing field path (e.g. messages[0].role) to a message
func fieldErrors(validationErrors validator.ValidationErrors) map[string]string {
	errors := make(map[string]string, len(validationErrors))
	for _, e := range validationErrors {
		field := e.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}

		switch e.Tag() {
		case "required":
			errors[field] = "field is required"
		case "min":
			errors[field] = "must contain at least " + e.Param() + " item(s)"
		case "max":
			errors[field] = "must be at most " + e.Param() + " characters"
		case "gte":
			errors[field] = "must be greater than or equal to " + e.Param()
		case "lte":
			errors[field] = "must be less than or equal to " + e.Param()
		case "gt":
			errors[field] = "must be greater than " + e.Param()
		default:
			errors[field] = "validation failed on " + e.Tag()
		}
	}
	return errors
}
