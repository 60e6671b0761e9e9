package payments

import "time"

// Event types handled by the reconciler.
const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventSubscriptionCreated  = "customer.subscription.created"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

// MetadataProductCode is the metadata key carrying the product a checkout or
// subscription grants access to.
const MetadataProductCode = "product_code"

// CheckoutSession is a minimal representation of a Stripe checkout.session event.
type CheckoutSession struct {
	ID              string `json:"id"`
	Mode            string `json:"mode"`
	Customer        string `json:"customer"`
	Subscription    string `json:"subscription"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
		Name  string `json:"name"`
		Phone string `json:"phone"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

// Email returns the buyer's email, preferring the address collected on the
// checkout page over the one prefilled by the caller.
func (s CheckoutSession) Email() string {
	if s.CustomerDetails.Email != "" {
		return s.CustomerDetails.Email
	}
	return s.CustomerEmail
}

// Subscription is a minimal representation of a Stripe subscription event.
type Subscription struct {
	ID       string            `json:"id"`
	Customer string            `json:"customer"`
	Status   string            `json:"status"`
	TrialEnd int64             `json:"trial_end"`
	Metadata map[string]string `json:"metadata"`
	Items    struct {
		Data []SubscriptionItem `json:"data"`
	} `json:"items"`
}

// SubscriptionItem is one priced line of a subscription.
type SubscriptionItem struct {
	CurrentPeriodEnd int64 `json:"current_period_end"`
	Price            struct {
		ID       string            `json:"id"`
		Metadata map[string]string `json:"metadata"`
	} `json:"price"`
}

// ProductCode returns the product code from the subscription metadata,
// falling back to the metadata of its prices.
func (s Subscription) ProductCode() string {
	if code := s.Metadata[MetadataProductCode]; code != "" {
		return code
	}
	for _, item := range s.Items.Data {
		if code := item.Price.Metadata[MetadataProductCode]; code != "" {
			return code
		}
	}
	return ""
}

// TrialEndTime returns the trial end, or nil when the subscription has none.
func (s Subscription) TrialEndTime() *time.Time {
	return unixTime(s.TrialEnd)
}

// CurrentPeriodEnd returns the latest period end across the subscription items.
func (s Subscription) CurrentPeriodEnd() *time.Time {
	var latest int64
	for _, item := range s.Items.Data {
		if item.CurrentPeriodEnd > latest {
			latest = item.CurrentPeriodEnd
		}
	}
	return unixTime(latest)
}

// Invoice is a minimal representation of a Stripe invoice event. Newer API
// versions move the subscription reference under parent.subscription_details.
type Invoice struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// SubscriptionID returns the subscription the invoice was raised for.
func (i Invoice) SubscriptionID() string {
	if i.Subscription != "" {
		return i.Subscription
	}
	return i.Parent.SubscriptionDetails.Subscription
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
