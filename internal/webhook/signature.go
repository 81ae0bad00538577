package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"strings"
)

// Header names carried by every approval webhook.
const (
	HeaderEvent          = "X-Approval-Event"
	HeaderIdempotencyKey = "X-Approval-Idempotency-Key"
	HeaderSignature      = "X-Approval-Signature"
)

// Sign returns Base64(HMAC-SHA256(secret, body)).
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature over body and compares in constant time.
func Verify(secret string, body []byte, signature string) bool {
	expected, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(expected, mac.Sum(nil))
}

// ResolveURL returns callback unchanged when it is absolute, otherwise joins
// it to base with exactly one slash between them.
func ResolveURL(base, callback string) string {
	if u, err := url.Parse(callback); err == nil && u.IsAbs() {
		return callback
	}
	if base == "" {
		return callback
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(callback, "/")
}
