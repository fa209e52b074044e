package signature

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// VerifyCryptomus checks a Cryptomus webhook signature:
// MD5(base64(rawBody) + apiKey), hex, compared case-insensitively in
// constant time. Any malformed input is a verification failure, never an
// error.
func VerifyCryptomus(rawBody []byte, receivedSignature, apiKey string) bool {
	if apiKey == "" || receivedSignature == "" {
		return false
	}

	encoded := base64.StdEncoding.EncodeToString(rawBody)
	sum := md5.Sum([]byte(encoded + apiKey))
	expected := hex.EncodeToString(sum[:])

	received := strings.ToLower(receivedSignature)
	if len(received) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(received)) == 1
}

// SignCryptomus produces the signature Cryptomus expects on outbound
// requests; the scheme is identical to the inbound one.
func SignCryptomus(body []byte, apiKey string) string {
	encoded := base64.StdEncoding.EncodeToString(body)
	sum := md5.Sum([]byte(encoded + apiKey))
	return hex.EncodeToString(sum[:])
}

// VerifyStripe delegates to the SDK's HMAC-with-timestamp verification and
// fails closed on expired timestamps or bad HMACs.
func VerifyStripe(rawBody []byte, signatureHeader, webhookSecret string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(rawBody, signatureHeader, webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
}
