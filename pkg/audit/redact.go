package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Fields replaced by salted hashes in stored snapshots. Keys are compared
// case-insensitively at every nesting level.
var piiFields = map[string]struct{}{
	"contact_name":  {},
	"contact_email": {},
	"contact_phone": {},
	"email":         {},
	"phone":         {},
	"ssn":           {},
	"date_of_birth": {},
	"address":       {},
	"access_token":  {},
	"refresh_token": {},
	"notes":         {},
}

// redactSnapshot walks a JSON snapshot and replaces PII field values with
// salted hashes. Invalid JSON collapses to a hash of the whole payload so a
// bad snapshot can never leak through unredacted.
func redactSnapshot(raw json.RawMessage, salt []byte) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		payload := map[string]any{
			"snapshot_hash":   hashBytes(raw, salt),
			"redaction_error": "invalid_json",
		}
		b, _ := json.Marshal(payload)
		return b
	}
	b, _ := json.Marshal(redactValue(v, salt))
	return b
}

func redactValue(v any, salt []byte) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			if _, ok := piiFields[strings.ToLower(k)]; ok {
				out[k] = hashValue(inner, salt)
				continue
			}
			out[k] = redactValue(inner, salt)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = redactValue(inner, salt)
		}
		return out
	default:
		return v
	}
}

func hashValue(v any, salt []byte) string {
	if s, ok := v.(string); ok {
		return hashString(s, salt)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return hashBytes(raw, salt)
}

func hashString(v string, salt []byte) string {
	return hashBytes([]byte(v), salt)
}

func hashBytes(b []byte, salt []byte) string {
	h := sha256.New()
	if len(salt) > 0 {
		_, _ = h.Write(salt)
	}
	_, _ = h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}
