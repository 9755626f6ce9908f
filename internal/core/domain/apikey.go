package domain

import (
	"regexp"
	"strings"
	"time"
)

// APIKey is the persisted key row. Usage fields are only meaningful relative
// to LastResetMonth.
type APIKey struct {
	ID             string
	Key            string
	OwnerID        string
	Name           string
	Description    string
	Permissions    string
	LimitEnabled   bool
	MonthlyLimit   int
	CurrentUsage   int
	LastResetMonth string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EffectiveUsage returns the usage counted against month. A row last reset in
// another month (or never) has used nothing yet.
func (k APIKey) EffectiveUsage(month string) int {
	if k.LastResetMonth == "" || k.LastResetMonth != month {
		return 0
	}
	return k.CurrentUsage
}

func (k APIKey) UsageState() UsageState {
	return UsageState{Usage: k.CurrentUsage, ResetMonth: k.LastResetMonth}
}

// UsageState is the (current_usage, last_reset_month) tuple the meter
// compares and swaps.
type UsageState struct {
	Usage      int
	ResetMonth string
}

// UsageTransition describes one conditional debit. Limit is the clamped
// limit the debit was checked against.
type UsageTransition struct {
	Prev  UsageState
	Next  UsageState
	Limit int
	At    time.Time
}

// ReachesLimit reports whether this debit is the one that exhausts the
// month's quota. Usage from an earlier month counts as zero.
func (t UsageTransition) ReachesLimit() bool {
	prev := t.Prev.Usage
	if t.Prev.ResetMonth != t.Next.ResetMonth {
		prev = 0
	}
	return t.Limit > 0 && t.Next.Usage >= t.Limit && prev < t.Limit
}

const monthLayout = "2006-01"

// MonthKey formats t as YYYY-MM in t's location.
func MonthKey(t time.Time) string {
	return t.Format(monthLayout)
}

func ValidMonthKey(month string) bool {
	if month == "" {
		return false
	}
	_, err := time.Parse(monthLayout, month)
	return err == nil
}

var ownerPattern = regexp.MustCompile(`^[a-zA-Z0-9._:@-]+$`)

func ValidateOwnerID(owner string) error {
	if owner == "" || !ownerPattern.MatchString(owner) {
		return ErrInvalidInput
	}
	return nil
}

// NewKey holds the owner-editable fields of a key being issued.
type NewKey struct {
	Name         string
	Description  string
	Permissions  string
	LimitEnabled bool
	MonthlyLimit int
}

func (n NewKey) Validate() error {
	if strings.TrimSpace(n.Name) == "" || len(n.Name) > 128 {
		return ErrInvalidInput
	}
	if len(n.Description) > 1024 {
		return ErrInvalidInput
	}
	if n.MonthlyLimit < 0 {
		return ErrInvalidInput
	}
	return nil
}

// KeyPatch carries optional owner edits. Usage fields belong to the meter.
type KeyPatch struct {
	Name         *string
	Description  *string
	Permissions  *string
	LimitEnabled *bool
	MonthlyLimit *int
}

func (p KeyPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Permissions == nil && p.LimitEnabled == nil && p.MonthlyLimit == nil
}

func (p KeyPatch) Apply(k APIKey) (APIKey, error) {
	if p.Name != nil {
		k.Name = *p.Name
	}
	if p.Description != nil {
		k.Description = *p.Description
	}
	if p.Permissions != nil {
		k.Permissions = *p.Permissions
	}
	if p.LimitEnabled != nil {
		k.LimitEnabled = *p.LimitEnabled
	}
	if p.MonthlyLimit != nil {
		k.MonthlyLimit = *p.MonthlyLimit
	}
	err := NewKey{
		Name:         k.Name,
		Description:  k.Description,
		Permissions:  k.Permissions,
		LimitEnabled: k.LimitEnabled,
		MonthlyLimit: k.MonthlyLimit,
	}.Validate()
	if err != nil {
		return APIKey{}, err
	}
	return k, nil
}
