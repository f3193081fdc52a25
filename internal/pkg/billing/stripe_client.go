package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/subscription"
)

// ErrSubscriptionNotFound is returned when the provider has no subscription
// with the requested id.
var ErrSubscriptionNotFound = errors.New("subscription not found at provider")

// SubscriptionFetcher re-reads a subscription from the provider when a
// webhook payload only references it by id.
type SubscriptionFetcher interface {
	FetchSubscription(ctx context.Context, id string) (json.RawMessage, error)
}

// StripeFetcher is a SubscriptionFetcher backed by the Stripe API.
type StripeFetcher struct {
	client *subscription.Client
}

func NewStripeFetcher(apiKey string) *StripeFetcher {
	return &StripeFetcher{client: &subscription.Client{
		B:   stripe.GetBackend(stripe.APIBackend),
		Key: apiKey,
	}}
}

func (f *StripeFetcher) FetchSubscription(ctx context.Context, id string) (json.RawMessage, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := f.client.Get(id, params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.HTTPStatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if sub.LastResponse != nil && len(sub.LastResponse.RawJSON) > 0 {
		return sub.LastResponse.RawJSON, nil
	}
	return json.Marshal(sub)
}
