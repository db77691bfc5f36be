package checkout

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/orgplans-backend/internal/gateway"
	"github.com/angelmondragon/orgplans-backend/internal/plans"
	"github.com/angelmondragon/orgplans-backend/internal/subscriptions"
	pkgdb "github.com/angelmondragon/orgplans-backend/pkg/db"
	"github.com/angelmondragon/orgplans-backend/pkg/db/models"
)

var testNow = time.Date(2026, 5, 10, 14, 0, 0, 0, time.UTC)

type fixture struct {
	conn    *gorm.DB
	subs    subscriptions.Repository
	repo    Repository
	gateway *fakeGateway
	applier *subscriptions.Applier
	svc     Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := pkgdb.Open(sqlite.Open("file:" + name + "?mode=memory&cache=shared"))
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(
		&models.OrgSubscription{},
		&models.AppliedBillingEvent{},
		&models.CheckoutSession{},
	))

	catalog, err := plans.NewDefaultCatalog(map[string]string{
		plans.IDEventPack10: "price_pack",
		plans.IDProClub:     "price_club",
		plans.IDProPME:      "price_pme",
	})
	require.NoError(t, err)

	f := &fixture{
		conn:    conn,
		subs:    subscriptions.NewRepository(conn),
		repo:    NewRepository(conn),
		gateway: newFakeGateway(),
	}
	clock := func() time.Time { return testNow }
	f.applier, err = subscriptions.NewApplier(subscriptions.ApplierParams{
		DB:      pkgdb.Wrap(conn),
		Repo:    f.subs,
		Catalog: catalog,
		Now:     clock,
	})
	require.NoError(t, err)
	f.svc, err = NewService(ServiceParams{
		Repo:              f.repo,
		Subscriptions:     f.subs,
		Applier:           f.applier,
		Gateway:           f.gateway,
		Catalog:           catalog,
		DefaultSuccessURL: "https://app.test/billing/success",
		DefaultCancelURL:  "https://app.test/billing",
		Now:               clock,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) load(t *testing.T, orgID uuid.UUID) models.OrgSubscription {
	t.Helper()
	sub, err := f.subs.FindByOrganization(context.Background(), orgID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	return *sub
}

type fakeGateway struct {
	mu        sync.Mutex
	customers map[uuid.UUID]string
	sessions  map[string]*gateway.CheckoutResult
	requests  []gateway.CheckoutRequest
	byKey     map[string]string
	ensureErr error
	getErr    error
	seq       int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		customers: map[uuid.UUID]string{},
		sessions:  map[string]*gateway.CheckoutResult{},
		byKey:     map[string]string{},
	}
}

func (g *fakeGateway) EnsureCustomer(_ context.Context, orgID uuid.UUID, existing string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ensureErr != nil {
		return "", g.ensureErr
	}
	if existing != "" {
		return existing, nil
	}
	if ref, ok := g.customers[orgID]; ok {
		return ref, nil
	}
	ref := "cus_" + orgID.String()[:8]
	g.customers[orgID] = ref
	return ref, nil
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if id, ok := g.byKey[req.IdempotencyKey]; ok {
		return &gateway.CheckoutSession{ID: id, URL: "https://checkout.test/" + id, ExpiresAt: req.ExpiresAt}, nil
	}
	g.seq++
	id := fmt.Sprintf("cs_test_%d", g.seq)
	g.byKey[req.IdempotencyKey] = id
	g.sessions[id] = &gateway.CheckoutResult{
		SessionID:      id,
		OrganizationID: req.OrganizationID.String(),
		PlanID:         req.Plan.ID,
		CustomerRef:    req.CustomerRef,
		Created:        testNow,
	}
	return &gateway.CheckoutSession{ID: id, URL: "https://checkout.test/" + id, ExpiresAt: req.ExpiresAt}, nil
}

func (g *fakeGateway) GetCheckoutSession(_ context.Context, id string) (*gateway.CheckoutResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.getErr != nil {
		return nil, g.getErr
	}
	session, ok := g.sessions[id]
	if !ok {
		return nil, gateway.ErrGatewayUnavailable
	}
	copied := *session
	return &copied, nil
}

// pay marks a session as completed and paid, optionally with a subscription.
func (g *fakeGateway) pay(id, subscriptionRef string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	session := g.sessions[id]
	session.Complete = true
	session.Paid = true
	session.SubscriptionRef = subscriptionRef
}
