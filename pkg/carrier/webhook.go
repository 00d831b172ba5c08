package carrier

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// WebhookSignature computes the HMAC-SHA256 signature carriers use for
// webhook authenticity: HMAC over the timestamp-prefixed body
// ("<timestamp>.<body>") with the shared webhook secret.
func WebhookSignature(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature checks a presented signature in constant time.
func VerifyWebhookSignature(secret, timestamp string, body []byte, presented string) bool {
	if presented == "" {
		return false
	}
	expected := WebhookSignature(secret, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(presented))
}
