// Package diagnostics assembles a redacted support bundle.
package diagnostics

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IGLOU-EU/go-wildcard/v2"
)

// Redacted replaces sensitive values.
const Redacted = "**REDACTED**"

// DefaultPatterns are matched case-insensitively against object keys.
var DefaultPatterns = []string{
	"host",
	"hostname",
	"instance",
	"port",
	"ip",
	"ip_address",
	"mac",
	"mac_address",
	"serial*",
	"gateway",
	"dns*",
	"email",
	"password",
	"api_key",
	"*token*",
	"*secret*",
	"*fingerprint*",
}

// Input is everything a bundle may contain. Any field may be nil.
type Input struct {
	Version  string
	Config   any
	Status   any
	Snapshot any
	Issues   any
	Logs     []string
}

// Bundle is the redacted result.
type Bundle struct {
	GeneratedAt time.Time `json:"generated_at"`
	Version     string    `json:"version,omitempty"`
	Config      any       `json:"config,omitempty"`
	Status      any       `json:"status,omitempty"`
	Snapshot    any       `json:"snapshot,omitempty"`
	Issues      any       `json:"issues,omitempty"`
	Logs        []any     `json:"logs,omitempty"`
}

// Redactor masks values whose key matches one of its patterns.
type Redactor struct {
	patterns []string
}

// NewRedactor builds a redactor; with no patterns DefaultPatterns apply.
func NewRedactor(patterns ...string) *Redactor {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	lowered := make([]string, len(patterns))
	for i, p := range patterns {
		lowered[i] = strings.ToLower(p)
	}
	return &Redactor{patterns: lowered}
}

// Build redacts in and stamps it with now.
func (r *Redactor) Build(in Input, now time.Time) (Bundle, error) {
	b := Bundle{GeneratedAt: now.UTC(), Version: in.Version}

	var err error
	if b.Config, err = r.Redact(in.Config); err != nil {
		return Bundle{}, fmt.Errorf("redact config: %w", err)
	}
	if b.Status, err = r.Redact(in.Status); err != nil {
		return Bundle{}, fmt.Errorf("redact status: %w", err)
	}
	if b.Snapshot, err = r.Redact(in.Snapshot); err != nil {
		return Bundle{}, fmt.Errorf("redact snapshot: %w", err)
	}
	if b.Issues, err = r.Redact(in.Issues); err != nil {
		return Bundle{}, fmt.Errorf("redact issues: %w", err)
	}

	// Only structured lines can be redacted reliably.
	for _, line := range in.Logs {
		var v any
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			continue
		}
		b.Logs = append(b.Logs, r.walk(v))
	}
	return b, nil
}

// Redact converts v to its JSON form and masks matching keys at any depth.
func (r *Redactor) Redact(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return r.walk(generic), nil
}

func (r *Redactor) walk(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if r.sensitive(k) {
				out[k] = Redacted
				continue
			}
			out[k] = r.walk(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = r.walk(val)
		}
		return out
	default:
		return v
	}
}

func (r *Redactor) sensitive(key string) bool {
	key = strings.ToLower(key)
	for _, p := range r.patterns {
		if wildcard.Match(p, key) {
			return true
		}
	}
	return false
}
