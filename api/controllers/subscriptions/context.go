package subscriptions

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/orgplans-backend/api/middleware"
	pkgerrors "github.com/angelmondragon/orgplans-backend/pkg/errors"
)

// organizationID resolves the organization the caller acts for.
func organizationID(r *http.Request) (uuid.UUID, error) {
	orgID := middleware.OrganizationIDFromContext(r.Context())
	if orgID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "organization context missing")
	}
	return orgID, nil
}
