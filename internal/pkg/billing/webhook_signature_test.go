package billing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

func TestVerifyValidSignature(t *testing.T) {
	v := NewVerifier([]string{testSecret})
	body, header := sign(t, testSecret, stripeEvent("evt_sig", "invoice.upcoming", baseTime, object{"id": "in_1"}))

	ev, err := v.Verify(body, header)
	require.NoError(t, err)
	assert.Equal(t, "evt_sig", ev.ID)
	assert.Equal(t, EventInvoiceUpcoming, ev.Type)
	assert.True(t, ev.Known)
	assert.True(t, baseTime.Equal(ev.CreatedAt))
	assert.JSONEq(t, `{"id":"in_1"}`, string(ev.Object))
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier([]string{testSecret})
	body, header := sign(t, testSecret, stripeEvent("evt_sig", "invoice.upcoming", baseTime, object{"id": "in_1"}))

	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-2] ^= 0x01

	_, otherHeader := sign(t, "whsec_other", stripeEvent("evt_sig", "invoice.upcoming", baseTime, object{"id": "in_1"}))

	old := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    testSecret,
		Timestamp: time.Now().Add(-time.Hour),
	})

	tests := []struct {
		name    string
		payload []byte
		header  string
		want    error
	}{
		{"one byte tampered", tampered, header, ErrInvalidSignature},
		{"wrong secret", body, otherHeader, ErrInvalidSignature},
		{"missing header", body, "", ErrMissingSignature},
		{"garbage header", body, "not-a-signature", ErrInvalidSignature},
		{"timestamp outside tolerance", old.Payload, old.Header, ErrInvalidSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.payload, tt.header)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, KindAuthentication, KindOf(err))
			assert.False(t, IsRetryable(err))
		})
	}
}

func TestVerifyAcceptsRotatedSecret(t *testing.T) {
	v := NewVerifier([]string{"whsec_new", " ", testSecret})
	body, header := sign(t, testSecret, stripeEvent("evt_rot", "customer.updated", baseTime, object{"id": "cus_1"}))

	ev, err := v.Verify(body, header)
	require.NoError(t, err)
	assert.Equal(t, "evt_rot", ev.ID)
}

func TestVerifyWithoutSecretIsConfigurationError(t *testing.T) {
	v := NewVerifier(nil)
	assert.False(t, v.Configured())

	_, err := v.Verify([]byte(`{}`), "t=1,v1=abc")
	assert.ErrorIs(t, err, ErrSecretNotConfigured)
	assert.Equal(t, KindConfiguration, KindOf(err))
	assert.False(t, IsRetryable(err))
}

func TestVerifySignedButMalformedBody(t *testing.T) {
	v := NewVerifier([]string{testSecret})
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: []byte(`{"id": 42`),
		Secret:  testSecret,
	})

	_, err := v.Verify(sp.Payload, sp.Header)
	require.Error(t, err)
	assert.Equal(t, KindBusiness, KindOf(err))
}

func TestVerifyUnknownTypeIsNotAnError(t *testing.T) {
	v := NewVerifier([]string{testSecret})
	body, header := sign(t, testSecret, stripeEvent("evt_unk", "charge.refunded", baseTime, object{"id": "ch_1"}))

	ev, err := v.Verify(body, header)
	require.NoError(t, err)
	assert.False(t, ev.Known)
	assert.Equal(t, "charge.refunded", ev.ProviderType)
}

func TestVerifyKeepsPreviousAttributes(t *testing.T) {
	v := NewVerifier([]string{testSecret})
	ev := stripeEvent("evt_prev", "customer.subscription.updated", baseTime, object{"id": "sub_123"})
	ev["data"].(object)["previous_attributes"] = object{"status": "trialing"}
	body, header := sign(t, testSecret, ev)

	got, err := v.Verify(body, header)
	require.NoError(t, err)
	raw, _ := json.Marshal(got.PreviousAttributes)
	assert.JSONEq(t, `{"status":"trialing"}`, string(raw))
}
