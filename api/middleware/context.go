package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/orgplans-backend/pkg/enums"
)

type principalKey struct{}

// Principal is the authenticated caller as established by Auth.
type Principal struct {
	UserID         uuid.UUID
	OrganizationID uuid.UUID
	Role           enums.MemberRole
}

// WithPrincipal stores p for downstream handlers, replacing any earlier caller.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext reports false when the request never went through Auth.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func UserIDFromContext(ctx context.Context) string {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.UserID == uuid.Nil {
		return ""
	}
	return p.UserID.String()
}

func RoleFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return string(p.Role)
}

// OrganizationIDFromContext returns the authenticated organization, or uuid.Nil.
func OrganizationIDFromContext(ctx context.Context) uuid.UUID {
	p, _ := PrincipalFromContext(ctx)
	return p.OrganizationID
}

// WithRole and WithOrganizationID amend the stored caller one field at a time.
func WithRole(ctx context.Context, role string) context.Context {
	p, _ := PrincipalFromContext(ctx)
	p.Role = enums.MemberRole(role)
	return WithPrincipal(ctx, p)
}

func WithOrganizationID(ctx context.Context, orgID uuid.UUID) context.Context {
	p, _ := PrincipalFromContext(ctx)
	p.OrganizationID = orgID
	return WithPrincipal(ctx, p)
}
