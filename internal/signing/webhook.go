package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var ErrBadSignature = errors.New("webhook signature mismatch")

// VerifyWebhookSignature checks the provider's HMAC-SHA256 signature over
// the raw request body. The header carries the hex digest.
func VerifyWebhookSignature(secret string, body []byte, signatureHex string) error {
	if secret == "" {
		return errors.New("webhook secret is not configured")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := mac.Sum(nil)

	got, err := hex.DecodeString(signatureHex)
	if err != nil {
		return ErrBadSignature
	}
	if !hmac.Equal(want, got) {
		return ErrBadSignature
	}
	return nil
}
