package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/angelmondragon/orgplans-backend/pkg/errors"
)

// ErrGatewayUnavailable marks timeouts and Stripe-side failures; callers may retry.
var ErrGatewayUnavailable = pkgerrors.New(pkgerrors.CodeDependency, "payment gateway unavailable")

func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode >= http.StatusInternalServerError ||
			stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
			stripeErr.Type == stripe.ErrorTypeAPI
	}
	return false
}

func isResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound
}

// mapError turns an SDK error into a typed error for the API layer.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if retryable(err) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, ErrGatewayUnavailable.Message()).
			WithDetails(map[string]any{"operation": op})
	}
	if isResourceMissing(err) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "payment gateway resource not found").
			WithDetails(map[string]any{"operation": op})
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode >= http.StatusBadRequest {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payment gateway rejected the request").
			WithDetails(map[string]any{"operation": op, "stripe_code": string(stripeErr.Code)})
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment gateway call failed").
		WithDetails(map[string]any{"operation": op})
}
