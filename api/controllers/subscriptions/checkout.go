package subscriptions

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/orgplans-backend/api/responses"
	"github.com/angelmondragon/orgplans-backend/api/validators"
	checkoutsvc "github.com/angelmondragon/orgplans-backend/internal/checkout"
	pkgerrors "github.com/angelmondragon/orgplans-backend/pkg/errors"
	"github.com/angelmondragon/orgplans-backend/pkg/logger"
)

const maxSessionIDLength = 255

type checkoutStartRequest struct {
	PlanID     string `json:"planId" validate:"required,plan_id"`
	SuccessURL string `json:"successUrl,omitempty" validate:"omitempty,return_url"`
	CancelURL  string `json:"cancelUrl,omitempty" validate:"omitempty,return_url"`
}

type checkoutVerifyRequest struct {
	SessionID string `json:"sessionId" validate:"required,max=255"`
}

// CheckoutStart opens a hosted checkout. It never changes the subscription.
func CheckoutStart(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		orgID, err := organizationID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutStartRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.StartCheckout(r.Context(), checkoutsvc.StartRequest{
			OrganizationID: orgID,
			PlanID:         strings.TrimSpace(payload.PlanID),
			SuccessURL:     payload.SuccessURL,
			CancelURL:      payload.CancelURL,
			IdempotencyKey: validators.SanitizeString(r.Header.Get("Idempotency-Key"), 128),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// CheckoutVerify confirms a checkout when the client returns from the gateway.
// The webhook may already have applied it, in which case the current snapshot comes back.
func CheckoutVerify(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		orgID, err := organizationID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutVerifyRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		snapshot, err := svc.VerifyPayment(r.Context(), orgID, validators.SanitizeString(payload.SessionID, maxSessionIDLength))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshot)
	}
}
