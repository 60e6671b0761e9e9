package payments

import (
	"context"
	"errors"
	"fmt"

	stripelib "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"
)

// ErrProvider is returned when a call to the payment provider fails.
var ErrProvider = errors.New("payment provider error")

// Client is the subset of the payment provider API the service calls.
type Client interface {
	CustomerEmail(ctx context.Context, customerID string) (string, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// CheckoutRequest describes a hosted checkout page for one product.
type CheckoutRequest struct {
	Email       string
	CustomerID  string
	PriceID     string
	ProductCode string
	AuthUserID  string
	TrialDays   int64
	SuccessURL  string
	CancelURL   string
}

// StripeClient implements Client on top of stripe-go. The package-level
// stripe-go calls are held in fields so tests can replace them.
type StripeClient struct {
	getCustomer           func(id string, params *stripelib.CustomerParams) (*stripelib.Customer, error)
	getSubscription       func(id string, params *stripelib.SubscriptionParams) (*stripelib.Subscription, error)
	createCheckoutSession func(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
	createPortalSession   func(params *stripelib.BillingPortalSessionParams) (*stripelib.BillingPortalSession, error)
}

// NewStripeClient creates a client authenticated with secretKey.
func NewStripeClient(secretKey string) *StripeClient {
	stripelib.Key = secretKey
	return &StripeClient{
		getCustomer:           customer.Get,
		getSubscription:       subscription.Get,
		createCheckoutSession: checkoutsession.New,
		createPortalSession:   portalsession.New,
	}
}

// CustomerEmail returns the email stored on the provider customer.
func (c *StripeClient) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	params := &stripelib.CustomerParams{}
	params.Context = ctx
	cust, err := c.getCustomer(customerID, params)
	if err != nil {
		return "", fmt.Errorf("%w: fetching customer %s: %v", ErrProvider, customerID, err)
	}
	return cust.Email, nil
}

// GetSubscription fetches the current state of a subscription.
func (c *StripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripelib.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.getSubscription(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching subscription %s: %v", ErrProvider, subscriptionID, err)
	}
	return fromStripeSubscription(sub), nil
}

// CreateCheckoutSession creates a subscription checkout and returns its URL.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	metadata := map[string]string{MetadataProductCode: req.ProductCode}
	if req.AuthUserID != "" {
		metadata["auth_user_id"] = req.AuthUserID
	}

	params := &stripelib.CheckoutSessionParams{
		Mode:       stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		SuccessURL: stripelib.String(req.SuccessURL),
		CancelURL:  stripelib.String(req.CancelURL),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Price:    stripelib.String(req.PriceID),
				Quantity: stripelib.Int64(1),
			},
		},
		SubscriptionData: &stripelib.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{MetadataProductCode: req.ProductCode},
		},
	}
	params.Metadata = metadata
	params.Context = ctx
	if req.CustomerID != "" {
		params.Customer = stripelib.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripelib.String(req.Email)
	}
	if req.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripelib.Int64(req.TrialDays)
	}

	sess, err := c.createCheckoutSession(params)
	if err != nil {
		return "", fmt.Errorf("%w: creating checkout session: %v", ErrProvider, err)
	}
	return sess.URL, nil
}

// CreatePortalSession creates a billing portal session and returns its URL.
func (c *StripeClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripelib.BillingPortalSessionParams{
		Customer:  stripelib.String(customerID),
		ReturnURL: stripelib.String(returnURL),
	}
	params.Context = ctx
	sess, err := c.createPortalSession(params)
	if err != nil {
		return "", fmt.Errorf("%w: creating portal session: %v", ErrProvider, err)
	}
	return sess.URL, nil
}

func fromStripeSubscription(sub *stripelib.Subscription) *Subscription {
	out := &Subscription{
		ID:       sub.ID,
		Status:   string(sub.Status),
		TrialEnd: sub.TrialEnd,
		Metadata: sub.Metadata,
	}
	if sub.Customer != nil {
		out.Customer = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			var entry SubscriptionItem
			entry.CurrentPeriodEnd = item.CurrentPeriodEnd
			if item.Price != nil {
				entry.Price.ID = item.Price.ID
				entry.Price.Metadata = item.Price.Metadata
			}
			out.Items.Data = append(out.Items.Data, entry)
		}
	}
	return out
}
