//go:build !integration

package payment

import "testing"

func TestVerifyCheckoutSignature(t *testing.T) {
	const secret = "key_secret_test"

	sig := SignCheckout(secret, "order_1", "pay_1")

	t.Run("accepts valid evidence", func(t *testing.T) {
		if !VerifyCheckoutSignature(secret, "order_1", "pay_1", sig) {
			t.Error("valid signature rejected")
		}
	})

	t.Run("accepts case and whitespace variations", func(t *testing.T) {
		if !VerifyCheckoutSignature(secret, "order_1", "pay_1", "  "+sig+" ") {
			t.Error("padded signature rejected")
		}
	})

	t.Run("rejects evidence signed with another secret", func(t *testing.T) {
		forged := SignCheckout("other_secret", "order_1", "pay_1")
		if VerifyCheckoutSignature(secret, "order_1", "pay_1", forged) {
			t.Error("forged signature accepted")
		}
	})

	t.Run("rejects evidence bound to a different order or payment", func(t *testing.T) {
		if VerifyCheckoutSignature(secret, "order_2", "pay_1", sig) {
			t.Error("signature accepted for the wrong order")
		}
		if VerifyCheckoutSignature(secret, "order_1", "pay_2", sig) {
			t.Error("signature accepted for the wrong payment")
		}
	})

	t.Run("rejects empty inputs", func(t *testing.T) {
		if VerifyCheckoutSignature(secret, "order_1", "pay_1", "") {
			t.Error("empty signature accepted")
		}
		if VerifyCheckoutSignature("", "order_1", "pay_1", sig) {
			t.Error("empty secret accepted")
		}
	})
}

func TestVerifyWebhookSignature(t *testing.T) {
	const secret = "webhook_secret_test"
	body := []byte(`{"event":"payment.captured"}`)

	sig := SignWebhook(secret, body)

	t.Run("accepts a correctly signed body", func(t *testing.T) {
		if !VerifyWebhookSignature(secret, body, sig) {
			t.Error("valid signature rejected")
		}
	})

	t.Run("rejects a modified body", func(t *testing.T) {
		tampered := []byte(`{"event":"payment.captured","amount":1}`)
		if VerifyWebhookSignature(secret, tampered, sig) {
			t.Error("signature accepted for a tampered body")
		}
	})

	t.Run("rejects another secret", func(t *testing.T) {
		if VerifyWebhookSignature("other_secret", body, sig) {
			t.Error("signature accepted under the wrong secret")
		}
	})

	t.Run("rejects garbage signatures", func(t *testing.T) {
		if VerifyWebhookSignature(secret, body, "not-hex") {
			t.Error("non-hex signature accepted")
		}
		if VerifyWebhookSignature(secret, body, "") {
			t.Error("empty signature accepted")
		}
	})
}
