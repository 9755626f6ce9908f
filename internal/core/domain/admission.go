package domain

import (
	"fmt"
	"time"
)

// DenialKind classifies why a credential was not admitted.
type DenialKind string

const (
	DenialNone                   DenialKind = ""
	DenialInvalidCredential      DenialKind = "invalid_credential"
	DenialQuotaExceeded          DenialKind = "quota_exceeded"
	DenialUpstreamUnavailable    DenialKind = "upstream_unavailable"
	DenialPersistenceWriteFailed DenialKind = "persistence_write_failed"
)

func (k DenialKind) Err() error {
	switch k {
	case DenialInvalidCredential:
		return ErrInvalidCredential
	case DenialQuotaExceeded:
		return ErrQuotaExceeded
	case DenialUpstreamUnavailable:
		return ErrUpstreamUnavailable
	case DenialPersistenceWriteFailed:
		return ErrPersistenceWriteFailed
	default:
		return nil
	}
}

// Retryable reports whether the same request may succeed later without the
// caller changing anything.
func (k DenialKind) Retryable() bool {
	switch k {
	case DenialQuotaExceeded, DenialUpstreamUnavailable, DenialPersistenceWriteFailed:
		return true
	default:
		return false
	}
}

const (
	ReasonMissingCredential = "missing credential"
	ReasonUnknownCredential = "unknown credential"
	ReasonLookupFailed      = "lookup failed"
	ReasonUsageWriteFailed  = "failed to update usage"
)

func QuotaExceededReason(usage, limit int) string {
	return fmt.Sprintf("monthly quota exceeded: usage=%d, limit=%d", usage, limit)
}

// Validation is the outcome of looking up a presented credential.
type Validation struct {
	Valid  bool
	Key    APIKey
	Reason string
	Kind   DenialKind
}

// Admission is the single result shape of the admission check. Usage and
// Limit are zero when quota is not tracked for the key. ResetAt is set on
// quota denials to the start of the next usage month.
type Admission struct {
	Admitted bool
	Usage    int
	Limit    int
	Reason   string
	Kind     DenialKind
	ResetAt  time.Time
}

func Admit(usage, limit int) Admission {
	return Admission{Admitted: true, Usage: usage, Limit: limit}
}

func Deny(kind DenialKind, reason string) Admission {
	return Admission{Kind: kind, Reason: reason}
}

// DenyQuota reports the stored usage and clamped limit alongside the denial.
func DenyQuota(usage, limit int, resetAt time.Time) Admission {
	return Admission{
		Kind:    DenialQuotaExceeded,
		Reason:  QuotaExceededReason(usage, limit),
		Usage:   usage,
		Limit:   limit,
		ResetAt: resetAt,
	}
}

// NextMonthStart is midnight on the first day of the month after t, in t's
// location.
func NextMonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
}
