package auth

import "errors"

var (
	// ErrInvalidToken indicates the token failed validation.
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrMissingSecret = errors.New("auth: secret is not configured")
	ErrWeakSecret    = errors.New("auth: secret too short")
)
