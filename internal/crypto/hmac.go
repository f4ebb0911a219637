// Package crypto provides the request-signing primitives used by the
// exchange gateways.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HMACSigner signs request payloads with HMAC-SHA256, the scheme Binance and
// most other centralized exchanges use for authenticated REST calls.
type HMACSigner struct {
	secret []byte
}

// NewHMACSigner creates a signer from the raw API secret.
func NewHMACSigner(secret string) *HMACSigner {
	return &HMACSigner{secret: []byte(secret)}
}

// SignHex returns the hex-encoded HMAC-SHA256 of payload. For Binance the
// payload is the full URL-encoded query string including the timestamp.
func (s *HMACSigner) SignHex(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (s *HMACSigner) String() string {
	if len(s.secret) <= 4 {
		return "HMACSigner{secret=****}"
	}
	return fmt.Sprintf("HMACSigner{secret=%s****}", s.secret[:4])
}
