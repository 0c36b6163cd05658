package auth

import "errors"

var (
	// ErrInvalidCredentials covers unknown user and wrong password alike.
	ErrInvalidCredentials = errors.New("username or password does not match")
	// ErrAccountLocked indicates the failed-attempt threshold was reached.
	ErrAccountLocked = errors.New("account temporarily locked")
	// ErrConfigurationMissing indicates no admin credential is configured.
	ErrConfigurationMissing = errors.New("no credentials configured")
	// ErrTokenInvalid indicates a bad signature or malformed token.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired indicates the token expiry has elapsed.
	ErrTokenExpired = errors.New("token expired")
	// ErrIPMismatch indicates the caller IP differs from the token's bound IP.
	ErrIPMismatch = errors.New("token bound to another address")
)
