package payments

import (
	"errors"
	"fmt"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// VerifyEvent checks the Stripe-Signature header against the endpoint secret
// and parses the event. Nothing in the payload is trusted before this returns.
func VerifyEvent(payload []byte, sigHeader, secret string) (stripelib.Event, error) {
	if sigHeader == "" || secret == "" {
		return stripelib.Event{}, ErrInvalidSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripelib.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}
