package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"worktally/pkg/domain"
)

const timeLayout = time.RFC3339Nano

// serializeProperties flattens the trait fields of kind into string values.
// Unset optional durations and zero times are omitted.
func serializeProperties(kind domain.Kind, p domain.Properties) map[string]string {
	out := make(map[string]string)
	if kind.Has(domain.TraitNamed) {
		out[domain.PropDisplayName] = p.DisplayName
		out[domain.PropDescription] = p.Description
	}
	if kind.Has(domain.TraitPerson) {
		out[domain.PropRealName] = p.RealName
		putDuration(out, domain.PropInactivityTimeout, p.InactivityTimeout)
		out[domain.PropUILocale] = p.UILocale
	}
	if kind.Has(domain.TraitLogin) {
		out[domain.PropLogin] = p.Login
		out[domain.PropPasswordHash] = p.PasswordHash
		out[domain.PropCapabilities] = p.Capabilities.String()
	}
	if kind.Has(domain.TraitEnablement) {
		out[domain.PropEnabled] = strconv.FormatBool(p.Enabled)
	}
	if kind.Has(domain.TraitContact) {
		out[domain.PropEmailAddresses] = encodeList(p.EmailAddresses)
	}
	if kind.Has(domain.TraitTimeout) {
		putDuration(out, domain.PropTimeout, p.Timeout)
	}
	if kind.Has(domain.TraitReminders) {
		out[domain.PropRequireCommentOnStart] = strconv.FormatBool(p.RequireCommentOnStart)
		out[domain.PropRequireCommentOnStop] = strconv.FormatBool(p.RequireCommentOnStop)
		out[domain.PropFullScreenReminder] = strconv.FormatBool(p.FullScreenReminder)
	}
	if kind.Has(domain.TraitCompletion) {
		out[domain.PropCompleted] = strconv.FormatBool(p.Completed)
	}
	if kind.Has(domain.TraitInterval) {
		putTime(out, domain.PropStartedAt, p.StartedAt)
		putTime(out, domain.PropFinishedAt, p.FinishedAt)
		out[domain.PropComment] = p.Comment
	}
	if kind.Has(domain.TraitOccurrence) {
		putTime(out, domain.PropOccurredAt, p.OccurredAt)
		out[domain.PropSummary] = p.Summary
	}
	return out
}

// deserializeProperties is the inverse of serializeProperties. Unknown keys
// are rejected so that a record of the wrong kind cannot load silently.
func deserializeProperties(kind domain.Kind, in map[string]string) (domain.Properties, error) {
	var p domain.Properties
	r := propReader{kind: kind, in: in, seen: make(map[string]struct{}, len(in))}
	if kind.Has(domain.TraitNamed) {
		p.DisplayName = r.str(domain.PropDisplayName)
		p.Description = r.str(domain.PropDescription)
	}
	if kind.Has(domain.TraitPerson) {
		p.RealName = r.str(domain.PropRealName)
		p.InactivityTimeout = r.duration(domain.PropInactivityTimeout)
		p.UILocale = r.str(domain.PropUILocale)
	}
	if kind.Has(domain.TraitLogin) {
		p.Login = r.str(domain.PropLogin)
		p.PasswordHash = r.str(domain.PropPasswordHash)
		p.Capabilities = r.capabilities(domain.PropCapabilities)
	}
	if kind.Has(domain.TraitEnablement) {
		p.Enabled = r.boolean(domain.PropEnabled)
	}
	if kind.Has(domain.TraitContact) {
		p.EmailAddresses = r.list(domain.PropEmailAddresses)
	}
	if kind.Has(domain.TraitTimeout) {
		p.Timeout = r.duration(domain.PropTimeout)
	}
	if kind.Has(domain.TraitReminders) {
		p.RequireCommentOnStart = r.boolean(domain.PropRequireCommentOnStart)
		p.RequireCommentOnStop = r.boolean(domain.PropRequireCommentOnStop)
		p.FullScreenReminder = r.boolean(domain.PropFullScreenReminder)
	}
	if kind.Has(domain.TraitCompletion) {
		p.Completed = r.boolean(domain.PropCompleted)
	}
	if kind.Has(domain.TraitInterval) {
		p.StartedAt = r.time(domain.PropStartedAt)
		p.FinishedAt = r.time(domain.PropFinishedAt)
		p.Comment = r.str(domain.PropComment)
	}
	if kind.Has(domain.TraitOccurrence) {
		p.OccurredAt = r.time(domain.PropOccurredAt)
		p.Summary = r.str(domain.PropSummary)
	}
	if r.err != nil {
		return domain.Properties{}, r.err
	}
	for key := range in {
		if _, ok := r.seen[key]; !ok {
			return domain.Properties{}, fmt.Errorf("%s has no property %q", kind, key)
		}
	}
	return p, nil
}

func putDuration(out map[string]string, key string, d *time.Duration) {
	if d != nil {
		out[key] = d.String()
	}
}

// encodeList renders a string list as a JSON array; quoted email local parts
// may contain any separator.
func encodeList(values []string) string {
	if len(values) == 0 {
		return ""
	}
	raw, err := json.Marshal(values)
	if err != nil {
		panic(fmt.Sprintf("encode list: %v", err))
	}
	return string(raw)
}

func putTime(out map[string]string, key string, t time.Time) {
	if !t.IsZero() {
		out[key] = t.UTC().Format(timeLayout)
	}
}

type propReader struct {
	kind domain.Kind
	in   map[string]string
	seen map[string]struct{}
	err  error
}

func (r *propReader) str(key string) string {
	v, ok := r.in[key]
	if ok {
		r.seen[key] = struct{}{}
	}
	return v
}

func (r *propReader) fail(key, value string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%s.%s value %q: %w", r.kind, key, value, err)
	}
}

func (r *propReader) boolean(key string) bool {
	raw := r.str(key)
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		r.fail(key, raw, err)
	}
	return v
}

func (r *propReader) duration(key string) *time.Duration {
	raw, ok := r.in[key]
	if !ok {
		return nil
	}
	r.seen[key] = struct{}{}
	v, err := time.ParseDuration(raw)
	if err != nil {
		r.fail(key, raw, err)
		return nil
	}
	return &v
}

func (r *propReader) time(key string) time.Time {
	raw := r.str(key)
	if raw == "" {
		return time.Time{}
	}
	v, err := time.Parse(timeLayout, raw)
	if err != nil {
		r.fail(key, raw, err)
	}
	return v.UTC()
}

func (r *propReader) capabilities(key string) domain.Capabilities {
	raw := r.str(key)
	v, err := domain.ParseCapabilities(raw)
	if err != nil {
		r.fail(key, raw, err)
	}
	return v
}

func (r *propReader) list(key string) []string {
	raw := r.str(key)
	if raw == "" {
		return nil
	}
	var v []string
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		r.fail(key, raw, err)
		return nil
	}
	if len(v) == 0 {
		return nil
	}
	return v
}
