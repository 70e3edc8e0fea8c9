package errors

import "errors"

// Caller errors. The forbidden-class sentinels (client, secret,
// grant) are collapsed to one generic response at the HTTP layer so
// callers cannot tell which check failed.
var (
	ErrClientNotFound      = errors.New("unknown client")
	ErrInvalidClientSecret = errors.New("invalid client secret")
	ErrInvalidGrant        = errors.New("invalid or expired grant")
	ErrInvalidToken        = errors.New("invalid or expired token")
	ErrAccountExists       = errors.New("account already connected")
)

// Provider/backend errors.
var (
	ErrVerificationFailed = errors.New("account verification failed")
	ErrProviderAuth       = errors.New("provider rejected credentials")
	ErrNotSupported       = errors.New("provider not supported")
)
