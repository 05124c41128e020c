package ledger

import "errors"

// Error classes. Every error returned by a Registry that is not a plain
// backend failure matches exactly one of these with errors.Is.
var (
	ErrAuthorization = errors.New("authorization error")
	ErrValidation    = errors.New("validation error")
	ErrConflict      = errors.New("conflict")
	ErrNotFound      = errors.New("not found")
	ErrUnavailable   = errors.New("backend unavailable")
)

var (
	ErrUnauthorized    = classified("caller is not authorized", ErrAuthorization)
	ErrInvalidIdentity = classified("invalid identity", ErrValidation)
	ErrInvalidHash     = classified("invalid document hash", ErrValidation)
	ErrInvalidRef      = classified("invalid blob reference", ErrValidation)
	ErrAlreadyTrusted  = classified("identity already trusted", ErrConflict)
	ErrNotTrusted      = classified("identity not trusted", ErrConflict)
	ErrAlreadyExists   = classified("certificate already exists", ErrConflict)
)

type classError struct {
	msg   string
	class error
}

func (e *classError) Error() string { return e.msg }
func (e *classError) Unwrap() error { return e.class }

func classified(msg string, class error) error {
	return &classError{msg: msg, class: class}
}

// Classify returns the class sentinel err belongs to, or nil.
func Classify(err error) error {
	for _, class := range []error{ErrAuthorization, ErrValidation, ErrConflict, ErrNotFound, ErrUnavailable} {
		if errors.Is(err, class) {
			return class
		}
	}
	return nil
}
