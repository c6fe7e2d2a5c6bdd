// Package validation checks request input before it reaches the service layer.
package validation

import (
	"errors"
	"fmt"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrLocationEmpty is returned when location is empty.
	ErrLocationEmpty = errors.New("location is required")
	// ErrLocationTooLong is returned when location length exceeds the maximum.
	ErrLocationTooLong = errors.New("location too long")
	// ErrLocationInvalidChars is returned when location contains disallowed characters.
	ErrLocationInvalidChars = errors.New("location contains invalid characters")
	// ErrInvalidQuery wraps query parameter validation failures.
	ErrInvalidQuery = errors.New("invalid query")
)

var validate = validator.New()

// ValidateLocation enforces a rune-length bound and restricts the name to
// letters (any script), digits, space, hyphen and middle dot. The name is
// returned unchanged: lookup is an exact match, so no trimming or case folding.
func ValidateLocation(input string, maxLen int) (string, error) {
	r := []rune(input)
	if len(r) == 0 {
		return "", ErrLocationEmpty
	}
	if maxLen > 0 && len(r) > maxLen {
		return "", ErrLocationTooLong
	}
	for _, c := range r {
		if !isAllowedLocationRune(c) {
			return "", ErrLocationInvalidChars
		}
	}
	return input, nil
}

func isAllowedLocationRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', '-', '·':
		return true
	}
	return false
}

// DigestQuery holds the optional query parameters of the forecast endpoints.
type DigestQuery struct {
	Format   string `validate:"omitempty,oneof=json text"`
	Language string `validate:"omitempty,max=64"`
	Hours    int    `validate:"omitempty,min=1,max=36"`
}

// ValidateQuery checks q against its tags.
func ValidateQuery(q DigestQuery) error {
	if err := validate.Struct(q); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %s", ErrInvalidQuery, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return nil
}
