package cardpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// notificationExcluded are the notification fields left out of the token.
var notificationExcluded = map[string]struct{}{
	"Token":           {},
	"DATA":            {},
	"Receipt":         {},
	"NotificationURL": {},
}

// RequestToken signs an outbound request body. Keys are lower-cased, nested
// values and the token itself are skipped, the password joins as "password".
func RequestToken(fields map[string]any, password string) string {
	values := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		key := strings.ToLower(k)
		if key == "token" {
			continue
		}
		if s, ok := scalar(v); ok {
			values[key] = s
		}
	}
	values["password"] = password
	return digest(values)
}

// NotificationToken computes the token the provider must have sent with a
// notification. Success is compared lower-case.
func NotificationToken(fields map[string]any, password string) string {
	values := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		if _, skip := notificationExcluded[k]; skip {
			continue
		}
		s, ok := scalar(v)
		if !ok {
			continue
		}
		if k == "Success" {
			s = strings.ToLower(s)
		}
		values[k] = s
	}
	values["Password"] = password
	return digest(values)
}

// VerifyToken compares two tokens in constant time.
func VerifyToken(expected, got string) bool {
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(got)))
}

func digest(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(values[k])
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// scalar stringifies a flat JSON value. Objects, arrays and nulls report false.
func scalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	default:
		return "", false
	}
}
