package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue replaces the value of any masked field that is not allowlisted.
const RedactedValue = "[REDACTED]"

// Keys saled emits in the clear. Everything else passed through MaskField,
// such as client addresses and NFT viewing keys, is redacted.
var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"method":    {},
	"requestid": {},
	"action":    {},
	"outcome":   {},
	"caller":    {},
	"owner":     {},
	"saleid":    {},
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), "_", ""))
}

// IsAllowlisted reports whether key is logged without redaction. Matching
// ignores case and underscores, so saleId and sale_id are the same key.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[normalizeKey(key)]
	return ok
}

// RedactionAllowlist returns the allowlisted keys, sorted.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for key := range redactionAllowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskField keeps value only when key is allowlisted or value is blank.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
