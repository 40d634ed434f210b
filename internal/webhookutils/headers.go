// Package webhookutils holds the header and signature helpers shared by the
// channel webhook parsers.
package webhookutils

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// GetHeaderCaseInsensitive retrieves a header value using case-insensitive key matching.
// Headers captured from fixtures or proxies are not always canonicalized.
func GetHeaderCaseInsensitive(headers map[string]string, key string) (string, bool) {
	keyLower := strings.ToLower(key)
	for k, v := range headers {
		if strings.ToLower(k) == keyLower {
			return v, true
		}
	}
	return "", false
}

// Flatten keeps the first value of every header
func Flatten(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// SignHMAC returns the hex encoded HMAC-SHA256 of payload
func SignHMAC(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidHMAC checks a hex HMAC-SHA256 signature. prefix (e.g. "sha256=") is
// stripped when present.
func ValidHMAC(signature, prefix, secret string, payload []byte) bool {
	if signature == "" || secret == "" {
		return false
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), prefix)
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(SignHMAC(secret, payload)))
}

// EqualToken compares shared secrets in constant time
func EqualToken(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
