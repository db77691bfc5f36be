package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/angelmondragon/orgplans-backend/api/responses"
	stripewebhook "github.com/angelmondragon/orgplans-backend/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/orgplans-backend/pkg/errors"
	"github.com/angelmondragon/orgplans-backend/pkg/logger"
)

const (
	signatureHeader     = "Stripe-Signature"
	defaultMaxBodyBytes = 64 << 10
)

// StripeEventHandler reconciles one signed Stripe delivery.
type StripeEventHandler interface {
	Handle(ctx context.Context, payload []byte, sigHeader string) (stripewebhook.Outcome, error)
}

// StripeWebhook acknowledges every authentic delivery. Only a bad signature
// or an unreadable body is rejected; processing failures are acked because
// verify and the re-sync job recover them.
func StripeWebhook(handler StripeEventHandler, maxBodyBytes int64, logg *logger.Logger) http.HandlerFunc {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if handler == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook reconciler unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payload too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		outcome, err := handler.Handle(ctx, payload, r.Header.Get(signatureHeader))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			logg.Debug(logg.WithField(ctx, "outcome", string(outcome)), "stripe webhook acknowledged")
		}
		responses.WriteAck(w)
	}
}
