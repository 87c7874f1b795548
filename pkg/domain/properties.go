package domain

import (
	"slices"
	"time"
)

// Named carries a display name and free-form description.
type Named struct {
	DisplayName string
	Description string
}

// Person carries the user-level settings of a human operator.
type Person struct {
	RealName          string
	InactivityTimeout *time.Duration
	UILocale          string
}

// Credential carries account login data. PasswordHash is an uppercase hex
// SHA-256 digest; plaintext passwords never reach the store.
type Credential struct {
	Login        string
	PasswordHash string
	Capabilities Capabilities
}

// Reminders carries the prompts shown when an activity starts or stops.
type Reminders struct {
	RequireCommentOnStart bool
	RequireCommentOnStop  bool
	FullScreenReminder    bool
}

// Interval carries the span of a logged unit of work.
type Interval struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Comment    string
}

// Occurrence carries a point-in-time event summary.
type Occurrence struct {
	OccurredAt time.Time
	Summary    string
}

// Properties is the flat scalar state of every kind. A kind only uses the
// fields of the traits it carries; the rest stay zero.
type Properties struct {
	Named
	Person
	Credential
	Reminders
	Interval
	Occurrence
	Enabled        bool
	EmailAddresses []string
	Timeout        *time.Duration
	Completed      bool
}

// Clone returns a deep copy.
func (p Properties) Clone() Properties {
	cp := p
	cp.EmailAddresses = slices.Clone(p.EmailAddresses)
	cp.InactivityTimeout = cloneDuration(p.InactivityTimeout)
	cp.Timeout = cloneDuration(p.Timeout)
	return cp
}

// Equal reports whether p and other hold the same values.
func (p Properties) Equal(other Properties) bool {
	if p.Named != other.Named || p.Credential != other.Credential ||
		p.Reminders != other.Reminders || p.Comment != other.Comment ||
		p.Summary != other.Summary || p.RealName != other.RealName ||
		p.UILocale != other.UILocale || p.Enabled != other.Enabled ||
		p.Completed != other.Completed {
		return false
	}
	if !p.StartedAt.Equal(other.StartedAt) || !p.FinishedAt.Equal(other.FinishedAt) ||
		!p.OccurredAt.Equal(other.OccurredAt) {
		return false
	}
	if !equalDuration(p.InactivityTimeout, other.InactivityTimeout) || !equalDuration(p.Timeout, other.Timeout) {
		return false
	}
	return slices.Equal(p.EmailAddresses, other.EmailAddresses)
}

// Mask returns a copy with every field outside the kind's traits zeroed.
func (p Properties) Mask(kind Kind) Properties {
	var out Properties
	if kind.Has(TraitNamed) {
		out.Named = p.Named
	}
	if kind.Has(TraitPerson) {
		out.RealName = p.RealName
		out.InactivityTimeout = cloneDuration(p.InactivityTimeout)
		out.UILocale = p.UILocale
	}
	if kind.Has(TraitLogin) {
		out.Credential = p.Credential
	}
	if kind.Has(TraitEnablement) {
		out.Enabled = p.Enabled
	}
	if kind.Has(TraitContact) {
		out.EmailAddresses = slices.Clone(p.EmailAddresses)
	}
	if kind.Has(TraitTimeout) {
		out.Timeout = cloneDuration(p.Timeout)
	}
	if kind.Has(TraitReminders) {
		out.Reminders = p.Reminders
	}
	if kind.Has(TraitCompletion) {
		out.Completed = p.Completed
	}
	if kind.Has(TraitInterval) {
		out.Interval = p.Interval
	}
	if kind.Has(TraitOccurrence) {
		out.Occurrence = p.Occurrence
	}
	return out
}

// DurationPtr is a convenience for optional duration fields.
func DurationPtr(d time.Duration) *time.Duration { return &d }

func cloneDuration(d *time.Duration) *time.Duration {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func equalDuration(a, b *time.Duration) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
