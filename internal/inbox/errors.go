package inbox

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

var (
	ErrInvalidName    = errors.New("enter a valid name")
	ErrInvalidNumber  = errors.New("enter a valid international phone number")
	ErrEmptyText      = errors.New("message text is empty")
	ErrAlreadyExists  = errors.New("contact already exists")
	ErrContactDeleted = errors.New("contact was deleted from this account")
	ErrUnknownAccount = errors.New("number is not one of your accounts")
	ErrMissingID      = errors.New("message has no id")
)

// ValidationError is returned for input rejected before any network call.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

var phonePattern = regexp.MustCompile(`^\+?[0-9\s-]{7,22}$`)

// ValidateContact trims and checks a contact name and number.
func ValidateContact(name, number string) (string, string, error) {
	name = strings.TrimSpace(name)
	number = strings.TrimSpace(number)

	visible := 0
	for _, r := range name {
		if !unicode.IsSpace(r) {
			visible++
		}
	}
	if visible < 2 {
		return "", "", &ValidationError{Field: "name", Err: ErrInvalidName}
	}
	if !phonePattern.MatchString(number) {
		return "", "", &ValidationError{Field: "number", Err: ErrInvalidNumber}
	}
	return name, number, nil
}
