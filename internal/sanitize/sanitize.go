// Package sanitize provides input validation helpers and middleware for the API.
package sanitize

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (4MB, invoices can
// carry a base64 document).
const MaxRequestSize = 4 << 20

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

var (
	// kvkRegex validates Dutch chamber of commerce numbers (8 digits)
	kvkRegex = regexp.MustCompile(`^[0-9]{8}$`)
	// vatRegex validates Dutch VAT identification numbers
	vatRegex = regexp.MustCompile(`^NL[0-9]{9}B[0-9]{2}$`)
	// ibanRegex validates the shape of an IBAN; the mod-97 check digit
	// test is done separately
	ibanRegex = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}[A-Z0-9]{10,30}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidKvK checks if a string is a valid Dutch KvK number
func IsValidKvK(s string) bool {
	return kvkRegex.MatchString(strings.TrimSpace(s))
}

// IsValidVAT checks if a string is a valid Dutch VAT number
func IsValidVAT(s string) bool {
	return vatRegex.MatchString(strings.ToUpper(strings.ReplaceAll(s, " ", "")))
}

// IsValidIBAN checks shape and mod-97 check digits of an IBAN.
func IsValidIBAN(s string) bool {
	iban := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	if !ibanRegex.MatchString(iban) {
		return false
	}

	// Move the first four characters to the end, expand letters to
	// digits (A=10 .. Z=35), then check the remainder mod 97 == 1.
	rearranged := iban[4:] + iban[:4]
	rem := 0
	for _, c := range rearranged {
		if c >= 'A' && c <= 'Z' {
			v := int(c-'A') + 10
			rem = (rem*100 + v) % 97
		} else {
			rem = (rem*10 + int(c-'0')) % 97
		}
	}
	return rem == 1
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	s = strings.ReplaceAll(s, "\x00", "")
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

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
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
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// ValidIBANField checks if a field holds a valid IBAN when present
func ValidIBANField(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidIBAN(value) {
			return &ValidationError{Field: field, Message: "must be a valid IBAN"}
		}
		return nil
	}
}

// ValidKvKField checks if a field holds a valid KvK number when present
func ValidKvKField(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidKvK(value) {
			return &ValidationError{Field: field, Message: "must be an 8-digit KvK number"}
		}
		return nil
	}
}

// PositiveAmount checks if a value is a positive euro amount
func PositiveAmount(field string, value float64) func() *ValidationError {
	return func() *ValidationError {
		if value <= 0 {
			return &ValidationError{Field: field, Message: "must be greater than zero"}
		}
		return nil
	}
}
