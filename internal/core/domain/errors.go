package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")
)

// Denial causes surfaced through Admission.Kind. They are never returned
// from the admission path as errors; callers use them with errors.Is via
// DenialKind.Err.
var (
	ErrInvalidCredential      = errors.New("invalid credential")
	ErrQuotaExceeded          = errors.New("quota exceeded")
	ErrUpstreamUnavailable    = errors.New("upstream unavailable")
	ErrPersistenceWriteFailed = errors.New("persistence write failed")
)
