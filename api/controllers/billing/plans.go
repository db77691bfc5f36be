package billing

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/orgplans-backend/api/responses"
	"github.com/angelmondragon/orgplans-backend/internal/plans"
	pkgerrors "github.com/angelmondragon/orgplans-backend/pkg/errors"
	"github.com/angelmondragon/orgplans-backend/pkg/logger"
)

// PlanCatalog describes the catalog methods used by the HTTP controllers.
type PlanCatalog interface {
	List() []plans.Plan
	Resolve(planID string) (plans.Plan, error)
}

type planResponse struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	BillingKind      string `json:"billingKind"`
	Price            string `json:"price"`
	PriceMinorUnits  int64  `json:"priceMinorUnits"`
	Currency         string `json:"currency"`
	MaxEvents        *int   `json:"maxEvents"`
	MaxInvitations   *int   `json:"maxInvitations"`
	ValidityMonths   *int   `json:"validityMonths,omitempty"`
	RequiresCheckout bool   `json:"requiresCheckout"`
}

type planListResponse struct {
	Plans []planResponse `json:"plans"`
}

func PlansList(catalog PlanCatalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if catalog == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan catalog unavailable"))
			return
		}
		responses.WriteSuccess(w, planListResponse{Plans: plansToResponse(catalog.List())})
	}
}

// PlanDetail accepts canonical ids and their aliases.
func PlanDetail(catalog PlanCatalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if catalog == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan catalog unavailable"))
			return
		}

		planID := strings.TrimSpace(chi.URLParam(r, "planId"))
		if planID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "plan id is required"))
			return
		}

		plan, err := catalog.Resolve(planID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, planToResponse(plan))
	}
}

func plansToResponse(list []plans.Plan) []planResponse {
	result := make([]planResponse, 0, len(list))
	for _, plan := range list {
		result = append(result, planToResponse(plan))
	}
	return result
}

func planToResponse(plan plans.Plan) planResponse {
	resp := planResponse{
		ID:               plan.ID,
		Name:             plan.Name,
		BillingKind:      string(plan.BillingKind),
		Price:            plan.Price().StringFixed(2),
		PriceMinorUnits:  plan.PriceMinorUnits,
		Currency:         string(plan.Currency),
		MaxEvents:        limitOf(plan.MaxEvents),
		MaxInvitations:   limitOf(plan.MaxInvitations),
		RequiresCheckout: !plan.IsFree(),
	}
	if plan.IsPack() && plan.ValidityMonths != plans.NoExpiry {
		months := plan.ValidityMonths
		resp.ValidityMonths = &months
	}
	return resp
}

// limitOf renders unlimited as null.
func limitOf(v int) *int {
	if v == plans.Unlimited {
		return nil
	}
	return &v
}
