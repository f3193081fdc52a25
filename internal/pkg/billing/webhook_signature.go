package billing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Verifier authenticates raw webhook bodies against one or more signing
// secrets. Several secrets are accepted while a rotation is in progress.
type Verifier struct {
	secrets   []string
	tolerance time.Duration
}

// NewVerifier drops blank secrets. A verifier without secrets reports a
// configuration error on every call.
func NewVerifier(secrets []string) *Verifier {
	clean := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if s = strings.TrimSpace(s); s != "" {
			clean = append(clean, s)
		}
	}
	return &Verifier{secrets: clean, tolerance: webhook.DefaultTolerance}
}

// Configured reports whether at least one secret is set.
func (v *Verifier) Configured() bool {
	return v != nil && len(v.secrets) > 0
}

// Verify checks the Stripe-Signature header (HMAC-SHA256, constant-time
// comparison, timestamp tolerance) and decodes the event.
func (v *Verifier) Verify(payload []byte, signatureHeader string) (*Event, error) {
	if !v.Configured() {
		return nil, configError(ErrSecretNotConfigured)
	}
	header := strings.TrimSpace(signatureHeader)
	if header == "" {
		return nil, authError(ErrMissingSignature)
	}

	var lastErr error
	for _, secret := range v.secrets {
		ev, err := webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
			Tolerance:                v.tolerance,
			IgnoreAPIVersionMismatch: true,
		})
		if err == nil {
			return fromStripeEvent(ev)
		}
		if !isSignatureError(err) {
			// Signature matched but the body is not a valid event.
			return nil, businessError("decode event", fmt.Errorf("%w: %v", ErrMalformedPayload, err))
		}
		lastErr = err
	}
	return nil, authError(fmt.Errorf("%w: %v", ErrInvalidSignature, lastErr))
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

func fromStripeEvent(ev stripe.Event) (*Event, error) {
	if strings.TrimSpace(ev.ID) == "" {
		return nil, businessError("decode event", fmt.Errorf("%w: missing event id", ErrMalformedPayload))
	}
	out := &Event{
		ID:           ev.ID,
		ProviderType: string(ev.Type),
		Livemode:     ev.Livemode,
	}
	if ev.Created > 0 {
		out.CreatedAt = time.Unix(ev.Created, 0).UTC()
	}
	if ev.Data != nil {
		out.Object = ev.Data.Raw
		out.PreviousAttributes = ev.Data.PreviousAttributes
	}
	out.Type, out.Known = ParseStripeEventType(out.ProviderType)
	return out, nil
}
