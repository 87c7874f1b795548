package domain

import "time"

// Validator checks scalar property values before they are applied. The store
// consults it on every create and update and again during full validation.
type Validator interface {
	IsValidDisplayName(kind Kind, name string) bool
	IsValidDescription(kind Kind, description string) bool
	IsValidRealName(name string) bool
	IsValidLogin(login string) bool
	IsValidPasswordHash(hash string) bool
	IsValidEmailAddress(address string) bool
	IsValidTimeout(kind Kind, timeout *time.Duration) bool
	IsValidInactivityTimeout(timeout *time.Duration) bool
	IsValidUILocale(locale string) bool
	IsValidComment(comment string) bool
	IsValidSummary(summary string) bool
	IsValidInterval(startedAt, finishedAt time.Time) bool
}

// PropertyViolation names the first property of a kind that fails validation.
type PropertyViolation struct {
	Property string
	Value    string
}

// CheckProperties runs every validator method relevant to the kind's traits
// and returns the first violation, if any.
func CheckProperties(v Validator, kind Kind, p Properties) (PropertyViolation, bool) {
	if kind.Has(TraitNamed) {
		if !v.IsValidDisplayName(kind, p.DisplayName) {
			return PropertyViolation{Property: PropDisplayName, Value: p.DisplayName}, false
		}
		if !v.IsValidDescription(kind, p.Description) {
			return PropertyViolation{Property: PropDescription, Value: p.Description}, false
		}
	}
	if kind.Has(TraitPerson) {
		if !v.IsValidRealName(p.RealName) {
			return PropertyViolation{Property: PropRealName, Value: p.RealName}, false
		}
		if !v.IsValidInactivityTimeout(p.InactivityTimeout) {
			return PropertyViolation{Property: PropInactivityTimeout, Value: durationString(p.InactivityTimeout)}, false
		}
		if !v.IsValidUILocale(p.UILocale) {
			return PropertyViolation{Property: PropUILocale, Value: p.UILocale}, false
		}
	}
	if kind.Has(TraitLogin) {
		if !v.IsValidLogin(p.Login) {
			return PropertyViolation{Property: PropLogin, Value: p.Login}, false
		}
		if !v.IsValidPasswordHash(p.PasswordHash) {
			return PropertyViolation{Property: PropPasswordHash}, false
		}
	}
	if kind.Has(TraitContact) {
		for _, addr := range p.EmailAddresses {
			if !v.IsValidEmailAddress(addr) {
				return PropertyViolation{Property: PropEmailAddresses, Value: addr}, false
			}
		}
	}
	if kind.Has(TraitTimeout) && !v.IsValidTimeout(kind, p.Timeout) {
		return PropertyViolation{Property: PropTimeout, Value: durationString(p.Timeout)}, false
	}
	if kind.Has(TraitInterval) {
		if !v.IsValidInterval(p.StartedAt, p.FinishedAt) {
			return PropertyViolation{Property: PropFinishedAt, Value: p.FinishedAt.Format(time.RFC3339)}, false
		}
		if !v.IsValidComment(p.Comment) {
			return PropertyViolation{Property: PropComment, Value: p.Comment}, false
		}
	}
	if kind.Has(TraitOccurrence) && !v.IsValidSummary(p.Summary) {
		return PropertyViolation{Property: PropSummary, Value: p.Summary}, false
	}
	return PropertyViolation{}, true
}

func durationString(d *time.Duration) string {
	if d == nil {
		return ""
	}
	return d.String()
}

// Property names used by serializers and violation reports.
const (
	PropDisplayName           = "displayName"
	PropDescription           = "description"
	PropRealName              = "realName"
	PropInactivityTimeout     = "inactivityTimeout"
	PropUILocale              = "uiLocale"
	PropLogin                 = "login"
	PropPasswordHash          = "passwordHash"
	PropCapabilities          = "capabilities"
	PropEnabled               = "enabled"
	PropEmailAddresses        = "emailAddresses"
	PropTimeout               = "timeout"
	PropRequireCommentOnStart = "requireCommentOnStart"
	PropRequireCommentOnStop  = "requireCommentOnStop"
	PropFullScreenReminder    = "fullScreenReminder"
	PropCompleted             = "completed"
	PropStartedAt             = "startedAt"
	PropFinishedAt            = "finishedAt"
	PropComment               = "comment"
	PropOccurredAt            = "occurredAt"
	PropSummary               = "summary"
)
