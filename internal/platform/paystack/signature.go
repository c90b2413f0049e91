package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

const SignatureHeader = "X-Paystack-Signature"

// DefaultAllowedIPs are the published Paystack webhook source addresses.
var DefaultAllowedIPs = []string{"52.31.139.75", "52.49.173.169", "52.214.14.220"}

// Sign returns the hex HMAC-SHA512 of body keyed by the secret key.
func Sign(secretKey string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secretKey))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares the signature header against the body HMAC in constant time.
func VerifySignature(secretKey string, body []byte, signature string) bool {
	signature = strings.ToLower(strings.TrimSpace(signature))
	if secretKey == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(secretKey, body)), []byte(signature))
}
