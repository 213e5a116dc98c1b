package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestSign(t *testing.T) {
	payload := []byte(`{"table":"jobs_result","status":"finished"}`)
	secret := "whsec_test"

	got := sign(payload, secret)
	require.True(t, strings.HasPrefix(got, "sha256="))

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	require.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), got)
}

func TestSignDiffersPerSecret(t *testing.T) {
	payload := []byte(`{}`)
	require.NotEqual(t, sign(payload, "whsec_a"), sign(payload, "whsec_b"))
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	d := &Dispatcher{deliveries: make(chan DeliveryRequest, 1)}

	first := DeliveryRequest{WebhookID: uuid.New(), Event: EventJobUpdate}
	second := DeliveryRequest{WebhookID: uuid.New(), Event: EventUploadUpdate}

	d.Enqueue(first)
	d.Enqueue(second)

	got := <-d.deliveries
	require.Equal(t, first.WebhookID, got.WebhookID)
	require.Empty(t, d.deliveries)
}
