// Package validation provides the default property Validator used by the
// store. Field rules are expressed as go-playground/validator tags.
package validation

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"worktally/pkg/domain"
)

// Length limits applied to free-text properties.
const (
	MaxNameLength        = 127
	MaxDescriptionLength = 1023
	MaxCommentLength     = 32767
	MaxSummaryLength     = 1023
)

// Duration limits applied to timeouts.
const (
	MaxTimeout           = 24 * time.Hour
	MinInactivityTimeout = time.Minute
	MaxInactivityTimeout = 24 * time.Hour
)

var (
	descriptionTag = "freetext,max=" + strconv.Itoa(MaxDescriptionLength)
	commentTag     = "freetext,max=" + strconv.Itoa(MaxCommentLength)
	summaryTag     = "freetext,max=" + strconv.Itoa(MaxSummaryLength)
)

var passwordHashPattern = regexp.MustCompile(`^[0-9A-F]{64}$`)

// Rules implements domain.Validator.
type Rules struct {
	v *validator.Validate
}

var _ domain.Validator = (*Rules)(nil)

// New constructs the default rule set.
func New() *Rules {
	v := validator.New()
	_ = v.RegisterValidation("displayname", validateDisplayName)
	_ = v.RegisterValidation("login", validateLogin)
	_ = v.RegisterValidation("passwordhash", validatePasswordHash)
	_ = v.RegisterValidation("freetext", validateFreeText)
	return &Rules{v: v}
}

// Engine exposes the underlying validator so other packages can reuse the
// registered tags for struct validation.
func (r *Rules) Engine() *validator.Validate { return r.v }

func (r *Rules) check(value any, tag string) bool {
	return r.v.Var(value, tag) == nil
}

// IsValidDisplayName requires a trimmed, non-empty, printable name.
func (r *Rules) IsValidDisplayName(_ domain.Kind, name string) bool {
	return r.check(name, "displayname")
}

func (r *Rules) IsValidDescription(_ domain.Kind, description string) bool {
	return r.check(description, descriptionTag)
}

func (r *Rules) IsValidRealName(name string) bool {
	return r.check(name, "displayname")
}

func (r *Rules) IsValidLogin(login string) bool {
	return r.check(login, "login")
}

// IsValidPasswordHash accepts an uppercase hex SHA-256 digest.
func (r *Rules) IsValidPasswordHash(hash string) bool {
	return r.check(hash, "passwordhash")
}

func (r *Rules) IsValidEmailAddress(address string) bool {
	return r.check(address, "required,email")
}

// IsValidTimeout accepts an unset timeout or one in (0, 24h].
func (r *Rules) IsValidTimeout(_ domain.Kind, timeout *time.Duration) bool {
	if timeout == nil {
		return true
	}
	return *timeout > 0 && *timeout <= MaxTimeout
}

func (r *Rules) IsValidInactivityTimeout(timeout *time.Duration) bool {
	if timeout == nil {
		return true
	}
	return *timeout >= MinInactivityTimeout && *timeout <= MaxInactivityTimeout
}

// IsValidUILocale accepts an empty locale (system default) or a BCP 47 tag.
func (r *Rules) IsValidUILocale(locale string) bool {
	return r.check(locale, "omitempty,bcp47_language_tag")
}

func (r *Rules) IsValidComment(comment string) bool {
	return r.check(comment, commentTag)
}

func (r *Rules) IsValidSummary(summary string) bool {
	return r.check(summary, summaryTag)
}

// IsValidInterval requires both ends set and a non-negative span.
func (r *Rules) IsValidInterval(startedAt, finishedAt time.Time) bool {
	if startedAt.IsZero() || finishedAt.IsZero() {
		return false
	}
	return !finishedAt.Before(startedAt)
}

func validateDisplayName(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || strings.TrimSpace(s) != s || utf8.RuneCountInString(s) > MaxNameLength {
		return false
	}
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func validateLogin(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || utf8.RuneCountInString(s) > MaxNameLength {
		return false
	}
	for _, r := range s {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func validatePasswordHash(fl validator.FieldLevel) bool {
	return passwordHashPattern.MatchString(fl.Field().String())
}

// validateFreeText allows printable runes plus line breaks and tabs.
func validateFreeText(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			continue
		}
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
