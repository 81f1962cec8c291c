// Package sanitization scrubs values before they reach a log line. It covers
// log forging (embedded line breaks) and credentials that show up in
// environment maps and endpoint configuration.
package sanitization

import (
	"fmt"
	"sort"
	"strings"
)

const redactedValue = "[REDACTED]"

const (
	emptyMaskedValue = "(empty)"
	maskedValue      = "***masked***"
)

// AllowedFields are field names that bypass key-based redaction. Values are
// still stripped of line breaks.
var AllowedFields = map[string]bool{
	"table_name":        true,
	"token_provider":    true,
	"partition_key":     true,
	"sort_key":          true,
	"dynamo_pk_name":    true,
	"dynamo_sk_name":    true,
	"dynamo_table_name": true,
}

// SanitizationType defines how to sanitize a field.
type SanitizationType int

const (
	FullyRedact SanitizationType = iota
	PartialMask
)

// SensitiveFields is keyed by lowercased field name.
var SensitiveFields = map[string]SanitizationType{
	"aws_secret_access_key": FullyRedact,
	"aws_session_token":     FullyRedact,
	"secret_access_key":     FullyRedact,
	"session_token":         FullyRedact,
	"password":              FullyRedact,
	"authorization":         FullyRedact,

	"aws_access_key_id":   PartialMask,
	"access_key_id":       PartialMask,
	"account":             PartialMask,
	"cdk_default_account": PartialMask,
}

var blockedSubstrings = []string{
	"secret",
	"token",
	"password",
	"private_key",
	"api_key",
	"credential",
}

// SanitizeLogString removes control characters that could enable log forging.
func SanitizeLogString(value string) string {
	if value == "" {
		return value
	}
	value = strings.ReplaceAll(value, "\r", "")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

// SanitizeFieldValue sanitizes a field value based on its key name.
func SanitizeFieldValue(key string, value any) any {
	keyLower := strings.ToLower(strings.TrimSpace(key))
	if keyLower == "" || AllowedFields[keyLower] {
		return sanitizeValue(value)
	}

	if typ, ok := SensitiveFields[keyLower]; ok {
		if typ == PartialMask {
			return maskValue(value)
		}
		return redactedValue
	}

	for _, substr := range blockedSubstrings {
		if strings.Contains(keyLower, substr) {
			return redactedValue
		}
	}
	return sanitizeValue(value)
}

// SanitizeEnvironment returns a copy of env with every value passed through
// SanitizeFieldValue. Keys are kept as-is.
func SanitizeEnvironment(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = fmt.Sprint(SanitizeFieldValue(k, v))
	}
	return out
}

// EnvironmentKeys returns the sorted keys of env, for logging what a unit
// receives without logging the values.
func EnvironmentKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MaskFirstLast keeps the first prefixLen and last suffixLen characters and masks the middle.
func MaskFirstLast(value string, prefixLen, suffixLen int) string {
	if value == "" {
		return emptyMaskedValue
	}
	if prefixLen < 0 || suffixLen < 0 {
		return maskedValue
	}
	if len(value) <= prefixLen+suffixLen {
		return maskedValue
	}
	return value[:prefixLen] + "***" + value[len(value)-suffixLen:]
}

// MaskFirstLast4 keeps the first and last 4 characters and masks the middle.
func MaskFirstLast4(value string) string {
	return MaskFirstLast(value, 4, 4)
}

func sanitizeValue(value any) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case string:
		return SanitizeLogString(typed)
	case []byte:
		return SanitizeLogString(string(typed))
	case map[string]string:
		return SanitizeEnvironment(typed)
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			out[k] = SanitizeFieldValue(k, v)
		}
		return out
	case []string:
		out := make([]string, len(typed))
		for i := range typed {
			out[i] = SanitizeLogString(typed[i])
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = sanitizeValue(typed[i])
		}
		return out
	case bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		return typed
	default:
		return SanitizeLogString(fmt.Sprintf("%v", typed))
	}
}

func maskValue(value any) string {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return redactedValue
	}
	s = strings.TrimSpace(s)
	if len(s) < 8 {
		return redactedValue
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
