package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifyCheckoutSignature checks the client callback evidence: the checkout
// widget signs "orderID|paymentID" with the API key secret. Comparison is
// constant time.
func VerifyCheckoutSignature(keySecret, orderID, paymentID, signature string) bool {
	if keySecret == "" || orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	h := hmac.New(sha256.New, []byte(keySecret))
	h.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// VerifyWebhookSignature checks the server-to-server evidence: HMAC-SHA256 of
// the raw request body with the webhook secret.
func VerifyWebhookSignature(webhookSecret string, body []byte, signature string) bool {
	sig := strings.TrimSpace(signature)
	if webhookSecret == "" || sig == "" {
		return false
	}
	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), decoded)
}

// SignCheckout produces the checkout signature; used by tests and the sandbox
// tooling to fabricate valid evidence.
func SignCheckout(keySecret, orderID, paymentID string) string {
	h := hmac.New(sha256.New, []byte(keySecret))
	h.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(h.Sum(nil))
}

// SignWebhook produces the webhook body signature.
func SignWebhook(webhookSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
