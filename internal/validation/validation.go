// Package validation rejects malformed requests before they reach the
// scoring pipeline.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// MaxRequestSize is the maximum request body size (64KB)
const MaxRequestSize = 64 << 10

// Field length limits.
const (
	MaxIdentifierLength = 128
	MaxMerchantLength   = 256
)

func init() {
	// Report JSON field names instead of Go struct field names.
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(jsonFieldName)
	}
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// SanitizeString trims whitespace, strips null bytes and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs validators and collects their errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: fmt.Sprintf("exceeds maximum length of %d", max)}
		}
		return nil
	}
}

// IntRange checks lo <= value <= hi
func IntRange(field string, value, lo, hi int) func() *ValidationError {
	return func() *ValidationError {
		if value < lo || value > hi {
			return &ValidationError{Field: field, Message: fmt.Sprintf("must be between %d and %d", lo, hi)}
		}
		return nil
	}
}

// FromBindError converts a gin binding error into field-level errors.
func FromBindError(err error) ValidationErrors {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := make(ValidationErrors, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, ValidationError{Field: fe.Field(), Message: tagMessage(fe)})
		}
		return out
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return ValidationErrors{{Field: typeErr.Field, Message: "must be of type " + typeErr.Type.String()}}
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return ValidationErrors{{Field: "body", Message: fmt.Sprintf("exceeds %d bytes", maxErr.Limit)}}
	}

	return ValidationErrors{{Field: "body", Message: "malformed JSON"}}
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte", "min":
		return "must be >= " + fe.Param()
	case "lte", "max":
		return "must be <= " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// BindJSON decodes and validates the request body into dst. On failure it
// aborts with 413 for oversized bodies or 422 otherwise, and returns false.
func BindJSON(c *gin.Context, dst any) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return true
	}
	status := http.StatusUnprocessableEntity
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		status = http.StatusRequestEntityTooLarge
	}
	Abort(c, status, FromBindError(err))
	return false
}

// Abort writes errs with the given status and stops the handler chain.
func Abort(c *gin.Context, status int, errs ValidationErrors) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":   "validation_failed",
		"message": errs.Error(),
		"details": errs,
	})
}
