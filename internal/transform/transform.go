// Package transform normalizes payloads crossing the gateway: outbound
// requests toward backend services and inbound responses echoed to the
// caller. Everything here is pure; no I/O, no shared state.
package transform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/agumabanks/baraka-gateway/internal/gateway"
)

// Framework artifacts stripped from outbound payloads; backend services
// never see them.
var frameworkFields = map[string]struct{}{
	"_token":     {},
	"_method":    {},
	"csrf_token": {},
	"xsrf_token": {},
}

// Sensitive fields stripped from responses before they are echoed back.
var sensitiveFields = map[string]struct{}{
	"password":       {},
	"password_hash":  {},
	"api_secret":     {},
	"secret_key":     {},
	"internal_notes": {},
	"access_token":   {},
}

// Timestamp layouts accepted from callers and upstreams; all are
// rewritten as RFC3339 UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02/01/2006 15:04:05",
}

// Keys holding monetary amounts; string values are normalized to numbers.
var amountKeys = map[string]struct{}{
	"amount": {}, "price": {}, "total": {}, "cost": {}, "fee": {},
}

// Transformer carries the field lists; the zero value is not usable, use
// New.
type Transformer struct {
	framework map[string]struct{}
	sensitive map[string]struct{}
}

// New creates a transformer with the default field lists plus any extra
// sensitive field names from configuration.
func New(extraSensitive ...string) *Transformer {
	t := &Transformer{
		framework: frameworkFields,
		sensitive: sensitiveFields,
	}
	if len(extraSensitive) > 0 {
		merged := make(map[string]struct{}, len(sensitiveFields)+len(extraSensitive))
		for k := range sensitiveFields {
			merged[k] = struct{}{}
		}
		for _, k := range extraSensitive {
			merged[toSnake(k)] = struct{}{}
		}
		t.sensitive = merged
	}
	return t
}

// TransformRequest normalizes an outbound request payload: snake_case
// keys, RFC3339 UTC timestamps, numeric amounts, framework fields
// removed. Empty bodies pass through as nil. Idempotent.
func (t *Transformer) TransformRequest(body []byte, _ *gateway.Context) ([]byte, error) {
	return t.normalize(body, t.framework)
}

// TransformResponse normalizes an upstream response before it reaches
// the caller, stripping sensitive fields. Idempotent.
func (t *Transformer) TransformResponse(body []byte, _ *gateway.Context) ([]byte, error) {
	return t.normalize(body, t.sensitive)
}

func (t *Transformer) normalize(body []byte, strip map[string]struct{}) ([]byte, error) {
	if len(body) == 0 {
		return nil, nil
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	out, err := json.Marshal(walk(payload, strip))
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return out, nil
}

func walk(v any, strip map[string]struct{}) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			key := toSnake(k)
			if _, drop := strip[key]; drop {
				continue
			}
			out[key] = normalizeValue(key, walk(child, strip))
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = walk(child, strip)
		}
		return out
	default:
		return v
	}
}

// normalizeValue rewrites timestamps and currency amounts for scalar
// leaf values based on the (already snake_cased) key.
func normalizeValue(key string, v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}

	if isTimestampKey(key) {
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC().Format(time.RFC3339)
			}
		}
		return v
	}

	if _, ok := amountKeys[key]; ok {
		cleaned := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
		if f, err := strconv.ParseFloat(cleaned, 64); err == nil {
			return f
		}
	}

	return v
}

func isTimestampKey(key string) bool {
	return strings.HasSuffix(key, "_at") ||
		strings.HasSuffix(key, "_date") ||
		strings.HasSuffix(key, "_time") ||
		key == "timestamp"
}

// toSnake converts camelCase and PascalCase keys to snake_case. Keys
// already in snake_case come back unchanged.
func toSnake(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)

	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]))
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || (i > 0 && runes[i-1] != '_' && nextLower) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
