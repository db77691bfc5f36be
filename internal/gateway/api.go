package gateway

import (
	"github.com/stripe/stripe-go/v84"
	portalsession "github.com/stripe/stripe-go/v84/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/subscription"
)

// stripeAPI is the slice of the Stripe SDK the gateway calls. Params carry
// their own context.
type stripeAPI interface {
	NewCustomer(params *stripe.CustomerParams) (*stripe.Customer, error)
	SearchCustomers(params *stripe.CustomerSearchParams) ([]*stripe.Customer, error)
	NewCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	GetCheckoutSession(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	GetSubscription(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	CancelSubscription(id string, params *stripe.SubscriptionCancelParams) (*stripe.Subscription, error)
	NewPortalSession(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
}

// sdkAPI forwards to the package-level SDK functions configured by pkg/stripe.
type sdkAPI struct{}

func (sdkAPI) NewCustomer(params *stripe.CustomerParams) (*stripe.Customer, error) {
	return customer.New(params)
}

func (sdkAPI) SearchCustomers(params *stripe.CustomerSearchParams) ([]*stripe.Customer, error) {
	iter := customer.Search(params)
	var out []*stripe.Customer
	for iter.Next() {
		out = append(out, iter.Customer())
	}
	return out, iter.Err()
}

func (sdkAPI) NewCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return checkoutsession.New(params)
}

func (sdkAPI) GetCheckoutSession(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return checkoutsession.Get(id, params)
}

func (sdkAPI) GetSubscription(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	return subscription.Get(id, params)
}

func (sdkAPI) CancelSubscription(id string, params *stripe.SubscriptionCancelParams) (*stripe.Subscription, error) {
	return subscription.Cancel(id, params)
}

func (sdkAPI) NewPortalSession(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	return portalsession.New(params)
}
