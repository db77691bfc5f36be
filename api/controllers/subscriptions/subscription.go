package subscriptions

import (
	"net/http"
	"time"

	"github.com/angelmondragon/orgplans-backend/api/responses"
	"github.com/angelmondragon/orgplans-backend/api/validators"
	subsvc "github.com/angelmondragon/orgplans-backend/internal/subscriptions"
	"github.com/angelmondragon/orgplans-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/orgplans-backend/pkg/errors"
	"github.com/angelmondragon/orgplans-backend/pkg/logger"
	"github.com/angelmondragon/orgplans-backend/pkg/pagination"
)

type portalRequest struct {
	ReturnURL string `json:"returnUrl,omitempty" validate:"omitempty,return_url"`
}

type portalResponse struct {
	URL string `json:"url"`
}

type historyEntry struct {
	IdempotencyKey string    `json:"idempotencyKey"`
	EventID        *string   `json:"eventId,omitempty"`
	Kind           string    `json:"kind"`
	Source         string    `json:"source"`
	Outcome        string    `json:"outcome"`
	AppliedAt      time.Time `json:"appliedAt"`
}

type historyResponse struct {
	Entries    []historyEntry `json:"entries"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

func SubscriptionSnapshot(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		orgID, err := organizationID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		snapshot, err := svc.Snapshot(r.Context(), orgID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshot)
	}
}

// SubscriptionCancel stops gateway billing and downgrades to the free plan.
func SubscriptionCancel(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		orgID, err := organizationID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		snapshot, err := svc.Cancel(r.Context(), orgID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshot)
	}
}

func SubscriptionConsumeUnit(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		orgID, err := organizationID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		snapshot, err := svc.ConsumeUnit(r.Context(), orgID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshot)
	}
}

func SubscriptionHistory(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		orgID, err := organizationID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cursor, err := validators.ParseCursor(r, "cursor")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.History(r.Context(), orgID, pagination.Params{Limit: limit, Cursor: cursor})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, historyResponse{
			Entries:    historyToResponse(page.Entries),
			NextCursor: page.NextCursor,
		})
	}
}

// SubscriptionPortal opens the gateway billing portal. defaultReturnURL is
// used when the client does not send one.
func SubscriptionPortal(svc subsvc.Service, defaultReturnURL string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		orgID, err := organizationID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload portalRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		returnURL := validators.SanitizeString(payload.ReturnURL, 2048)
		if returnURL == "" {
			returnURL = defaultReturnURL
		}

		url, err := svc.Portal(r.Context(), orgID, returnURL)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, portalResponse{URL: url})
	}
}

func historyToResponse(rows []models.AppliedBillingEvent) []historyEntry {
	out := make([]historyEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, historyEntry{
			IdempotencyKey: row.IdempotencyKey,
			EventID:        row.EventID,
			Kind:           row.Kind,
			Source:         string(row.Source),
			Outcome:        row.Outcome,
			AppliedAt:      row.AppliedAt,
		})
	}
	return out
}
