package vapi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oakridgehealth/frontdesk/internal/sms"
	"github.com/oakridgehealth/frontdesk/internal/timeclock"
)

// Params is a loose bag of tool arguments. The platform sends them either as
// a JSON object or as a JSON-encoded string containing an object.
type Params map[string]any

// ParseParams decodes raw tool arguments, unwrapping one level of string
// encoding if present. Nil or empty input yields empty params.
func ParseParams(raw json.RawMessage) (Params, error) {
	if len(raw) == 0 {
		return Params{}, nil
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return Params{}, nil
	}
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("vapi: decode argument string: %w", err)
		}
		if strings.TrimSpace(inner) == "" {
			return Params{}, nil
		}
		raw = json.RawMessage(inner)
	}
	var p Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("vapi: decode arguments: %w", err)
	}
	if p == nil {
		p = Params{}
	}
	return p, nil
}

// String returns a trimmed string value, "" when absent or not a string.
// Numeric values are rendered, since models sometimes send numbers for
// string fields.
func (p Params) String(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// First returns the first non-empty string among the given keys. Tool
// schemas drift; models reach for synonyms.
func (p Params) First(keys ...string) string {
	for _, k := range keys {
		if v := p.String(k); v != "" {
			return v
		}
	}
	return ""
}

// Int returns an integer value, 0 when absent or unparseable.
func (p Params) Int(key string) int {
	v, ok := p[key]
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// Date parses a YYYY-MM-DD value as a local date in loc.
func (p Params) Date(key string, loc *time.Location) (time.Time, error) {
	raw := p.String(key)
	if raw == "" {
		return time.Time{}, fmt.Errorf("vapi: missing %s", key)
	}
	return timeclock.ParseDate(raw, loc)
}

// Clock parses an HH:MM value and returns it normalised to two-digit form.
func (p Params) Clock(key string) (string, error) {
	raw := p.String(key)
	if raw == "" {
		return "", fmt.Errorf("vapi: missing %s", key)
	}
	t, err := timeclock.ParseClock(raw)
	if err != nil {
		return "", err
	}
	return t.Format("15:04"), nil
}

// UUID parses a UUID value.
func (p Params) UUID(key string) (uuid.UUID, error) {
	raw := p.String(key)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("vapi: missing %s", key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("vapi: invalid %s: %w", key, err)
	}
	return id, nil
}

// Phone returns an E.164-normalised phone value, "" when absent or invalid.
func (p Params) Phone(keys ...string) string {
	return sms.NormalizeE164(p.First(keys...))
}

// Unknown returns keys not in the allowed list, for schema-drift logging.
func (p Params) Unknown(allowed ...string) []string {
	set := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		set[k] = true
	}
	var extra []string
	for k := range p {
		if !set[k] {
			extra = append(extra, k)
		}
	}
	return extra
}
