package cert

import "errors"

var (
	// ErrInvalidName indicates the client name fails the allowed pattern.
	ErrInvalidName = errors.New("invalid certificate name")
	// ErrDuplicate indicates a certificate with that name already exists.
	ErrDuplicate = errors.New("certificate already exists")
	// ErrNotFound indicates no certificate is known under that name.
	ErrNotFound = errors.New("certificate not found")
	// ErrAlreadyRevoked indicates the certificate was revoked earlier.
	ErrAlreadyRevoked = errors.New("certificate already revoked")
	// ErrGenerationFailed indicates the external PKI tool failed to issue.
	ErrGenerationFailed = errors.New("certificate generation failed")
	// ErrRevocationFailed indicates the external PKI tool failed to revoke.
	ErrRevocationFailed = errors.New("certificate revocation failed")
	// ErrFileSystem indicates an error touching the certificate store.
	ErrFileSystem = errors.New("certificate store error")
)
