package processortest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// WebhookSecret is the signing secret used by SignedEvent.
const WebhookSecret = "whsec_test_secret"

// SignedEvent renders a Stripe event envelope around object and signs it
// with WebhookSecret. It returns the raw payload and the Stripe-Signature header.
func SignedEvent(t testing.TB, id, eventType string, object any) ([]byte, string) {
	t.Helper()

	raw, err := json.Marshal(object)
	require.NoError(t, err)

	envelope := map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     time.Now().Unix(),
		"api_version": stripe.APIVersion,
		"livemode":    false,
		"data":        map[string]json.RawMessage{"object": raw},
	}
	payload, err := json.Marshal(envelope)
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    WebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}
