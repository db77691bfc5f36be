package routes

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	checkoutsvc "github.com/angelmondragon/orgplans-backend/internal/checkout"
	"github.com/angelmondragon/orgplans-backend/internal/plans"
	subscriptionsvc "github.com/angelmondragon/orgplans-backend/internal/subscriptions"
	stripewebhook "github.com/angelmondragon/orgplans-backend/internal/webhooks/stripe"
	pkgAuth "github.com/angelmondragon/orgplans-backend/pkg/auth"
	"github.com/angelmondragon/orgplans-backend/pkg/config"
	"github.com/angelmondragon/orgplans-backend/pkg/enums"
	"github.com/angelmondragon/orgplans-backend/pkg/logger"
	"github.com/angelmondragon/orgplans-backend/pkg/pagination"
)

type stubRedis struct {
	data map[string]string
}

func (s *stubRedis) Get(_ context.Context, key string) (string, error) { return s.data[key], nil }

func (s *stubRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = fmt.Sprint(value)
	return true, nil
}

func (s *stubRedis) Set(_ context.Context, key string, value any, _ time.Duration) error {
	s.data[key] = fmt.Sprint(value)
	return nil
}

func (s *stubRedis) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *stubRedis) IdempotencyKey(scope, id string) string { return scope + ":" + id }

func (s *stubRedis) FixedWindowAllow(context.Context, string, int64, time.Duration) (bool, int64, error) {
	return true, 1, nil
}

func (s *stubRedis) Ping(context.Context) error { return nil }

type stubSubscriptions struct{ cancels int }

func (s *stubSubscriptions) Snapshot(_ context.Context, orgID uuid.UUID) (*subscriptionsvc.Snapshot, error) {
	return &subscriptionsvc.Snapshot{OrganizationID: orgID, PlanID: plans.IDDecouverte}, nil
}

func (s *stubSubscriptions) Cancel(_ context.Context, orgID uuid.UUID) (*subscriptionsvc.Snapshot, error) {
	s.cancels++
	return &subscriptionsvc.Snapshot{OrganizationID: orgID, PlanID: plans.IDDecouverte}, nil
}

func (s *stubSubscriptions) ConsumeUnit(_ context.Context, orgID uuid.UUID) (*subscriptionsvc.Snapshot, error) {
	return &subscriptionsvc.Snapshot{OrganizationID: orgID}, nil
}

func (s *stubSubscriptions) History(context.Context, uuid.UUID, pagination.Params) (*subscriptionsvc.HistoryPage, error) {
	return &subscriptionsvc.HistoryPage{}, nil
}

func (s *stubSubscriptions) Portal(context.Context, uuid.UUID, string) (string, error) {
	return "https://billing.example", nil
}

type stubCheckout struct{}

func (stubCheckout) StartCheckout(_ context.Context, req checkoutsvc.StartRequest) (*checkoutsvc.StartResult, error) {
	return &checkoutsvc.StartResult{SessionID: "cs_1", PlanID: req.PlanID}, nil
}

func (stubCheckout) VerifyPayment(context.Context, uuid.UUID, string) (*subscriptionsvc.Snapshot, error) {
	return &subscriptionsvc.Snapshot{}, nil
}

type stubEvents struct{ calls int }

func (s *stubEvents) Handle(context.Context, []byte, string) (stripewebhook.Outcome, error) {
	s.calls++
	return stripewebhook.OutcomeApplied, nil
}

type fixture struct {
	cfg     *config.Config
	handler http.Handler
	subs    *stubSubscriptions
	events  *stubEvents
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		App: config.AppConfig{Env: "dev", FrontendURL: "http://localhost:3000"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "orgplans", ExpirationMinutes: 30},
		Billing: config.BillingConfig{
			WebhookMaxBodyBytes: 1024,
			CheckoutRateLimit:   5,
			CheckoutRateWindow:  time.Minute,
			IdempotencyKeyTTL:   time.Hour,
		},
	}
	catalog, err := plans.NewDefaultCatalog(map[string]string{
		plans.IDEventPack10: "price_pack",
		plans.IDProClub:     "price_club",
		plans.IDProPME:      "price_pme",
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	f := &fixture{cfg: cfg, subs: &stubSubscriptions{}, events: &stubEvents{}}
	f.handler = NewRouter(cfg, logger.Nop(), nil, &stubRedis{data: map[string]string{}}, prometheus.NewRegistry(),
		catalog, f.subs, stubCheckout{}, f.events)
	return f
}

func (f *fixture) token(t *testing.T, role enums.MemberRole) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(f.cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID:         uuid.New(),
		OrganizationID: uuid.New(),
		Role:           role,
		JTI:            uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return token
}

func (f *fixture) do(method, path, token, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	f.handler.ServeHTTP(resp, req)
	return resp
}

func TestPublicRoutes(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/health/live", "/health/ready", "/api/v1/plans", "/api/v1/plans/pro-club", "/metrics"} {
		if resp := f.do(http.MethodGet, path, "", "", nil); resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.Code)
		}
	}
}

func TestSubscriptionRoutesRequireAuth(t *testing.T) {
	f := newFixture(t)
	if resp := f.do(http.MethodGet, "/api/v1/subscription", "", "", nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
	if resp := f.do(http.MethodGet, "/api/v1/subscription", f.token(t, enums.MemberRoleMember), "", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestBillingRoutesRequireManager(t *testing.T) {
	f := newFixture(t)
	headers := map[string]string{"Idempotency-Key": "k1"}
	resp := f.do(http.MethodPost, "/api/v1/subscription/cancel", f.token(t, enums.MemberRoleMember), "", headers)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
	resp = f.do(http.MethodPost, "/api/v1/subscription/cancel", f.token(t, enums.MemberRoleOwner), "", headers)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if f.subs.cancels != 1 {
		t.Fatalf("expected one cancellation, got %d", f.subs.cancels)
	}
}

func TestCheckoutRequiresIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, enums.MemberRoleAdmin)
	resp := f.do(http.MethodPost, "/api/v1/subscription/checkout", token, `{"planId":"pro_club"}`, nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	resp = f.do(http.MethodPost, "/api/v1/subscription/checkout", token, `{"planId":"pro_club"}`, map[string]string{"Idempotency-Key": "k2"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.Code)
	}
}

func TestStripeWebhookIsPublic(t *testing.T) {
	f := newFixture(t)
	resp := f.do(http.MethodPost, "/api/v1/webhooks/stripe", "", `{"id":"evt_1"}`, map[string]string{"Stripe-Signature": "t=1,v1=x"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if f.events.calls != 1 {
		t.Fatalf("expected reconciler call")
	}
}
