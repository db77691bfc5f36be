package stripewebhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/orgplans-backend/internal/checkout"
	"github.com/angelmondragon/orgplans-backend/internal/plans"
	"github.com/angelmondragon/orgplans-backend/internal/subscriptions"
	pkgdb "github.com/angelmondragon/orgplans-backend/pkg/db"
	"github.com/angelmondragon/orgplans-backend/pkg/db/models"
	"github.com/angelmondragon/orgplans-backend/pkg/enums"
)

const testSecret = "whsec_test"

var testNow = time.Date(2026, 6, 2, 8, 0, 0, 0, time.UTC)

type harness struct {
	conn       *gorm.DB
	subs       subscriptions.Repository
	catalog    *plans.Catalog
	applier    *subscriptions.Applier
	store      *inMemoryStore
	metrics    *countingMetrics
	canceller  *recordingCanceller
	reconciler *Reconciler
}

func newHarness(t *testing.T) *harness {
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

	h := &harness{
		conn:      conn,
		subs:      subscriptions.NewRepository(conn),
		catalog:   catalog,
		store:     newInMemoryStore(),
		metrics:   &countingMetrics{counts: map[string]int{}},
		canceller: &recordingCanceller{},
	}
	h.applier, err = subscriptions.NewApplier(subscriptions.ApplierParams{
		DB:        pkgdb.Wrap(conn),
		Repo:      h.subs,
		Catalog:   catalog,
		Canceller: h.canceller,
		Now:       func() time.Time { return testNow },
	})
	require.NoError(t, err)
	h.reconciler = h.newReconciler(t, h.applier, true)
	return h
}

func (h *harness) newReconciler(t *testing.T, applier transitionApplier, withGuard bool) *Reconciler {
	t.Helper()
	params := ReconcilerParams{
		Applier:       applier,
		Subscriptions: h.subs,
		Checkouts:     checkout.NewRepository(h.conn),
		Catalog:       h.catalog,
		Metrics:       h.metrics,
		SigningSecret: testSecret,
	}
	if withGuard {
		guard, err := NewEventGuard(h.store, time.Hour)
		require.NoError(t, err)
		params.Guard = guard
	}
	r, err := NewReconciler(params)
	require.NoError(t, err)
	return r
}

func (h *harness) load(t *testing.T, orgID uuid.UUID) models.OrgSubscription {
	t.Helper()
	sub, err := h.subs.FindByOrganization(context.Background(), orgID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	return *sub
}

func (h *harness) appliedCount(t *testing.T, orgID uuid.UUID) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.conn.Model(&models.AppliedBillingEvent{}).Where("organization_id = ?", orgID).Count(&count).Error)
	return count
}

// seedRecurring puts orgID on Pro Club backed by subRef through a verified checkout.
func (h *harness) seedRecurring(t *testing.T, orgID uuid.UUID, subRef, customerRef string) {
	t.Helper()
	_, err := h.applier.Apply(context.Background(), subscriptions.Transition{
		OrganizationID:  orgID,
		Kind:            subscriptions.KindCheckoutCompleted,
		Source:          enums.TransitionSourceVerify,
		IdempotencyKey:  subscriptions.CheckoutKey("cs_seed_" + subRef),
		OccurredAt:      testNow.Add(-24 * time.Hour),
		PlanID:          plans.IDProClub,
		CustomerRef:     customerRef,
		SubscriptionRef: subRef,
	})
	require.NoError(t, err)
}

func (h *harness) deliver(t *testing.T, payload []byte) Outcome {
	t.Helper()
	outcome, err := h.reconciler.Handle(context.Background(), payload, signatureHeader(payload, testSecret, time.Now()))
	require.NoError(t, err)
	return outcome
}

func signedEvent(t *testing.T, id string, eventType stripe.EventType, created time.Time, object map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	event := stripe.Event{
		ID:         id,
		Type:       eventType,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Created:    created.Unix(),
		Data:       &stripe.EventData{Raw: raw},
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return payload
}

func signatureHeader(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts.Unix(), payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func checkoutObject(sessionID string, orgID uuid.UUID, planID, paymentStatus string, created time.Time) map[string]any {
	obj := map[string]any{
		"id":             sessionID,
		"object":         "checkout.session",
		"status":         "complete",
		"payment_status": paymentStatus,
		"customer":       "cus_wh",
		"created":        created.Unix(),
		"metadata": map[string]string{
			"organization_id": orgID.String(),
			"plan_id":         planID,
		},
	}
	return obj
}

func subscriptionObject(subRef, status string, periodEnd time.Time, metadata map[string]string) map[string]any {
	return pricedSubscriptionObject(subRef, status, "price_club", periodEnd, metadata)
}

func pricedSubscriptionObject(subRef, status, priceRef string, periodEnd time.Time, metadata map[string]string) map[string]any {
	return map[string]any{
		"id":       subRef,
		"object":   "subscription",
		"status":   status,
		"customer": "cus_wh",
		"metadata": metadata,
		"items": map[string]any{
			"object": "list",
			"data": []map[string]any{{
				"id":                 "si_1",
				"object":             "subscription_item",
				"current_period_end": periodEnd.Unix(),
				"price":              map[string]any{"id": priceRef, "object": "price"},
			}},
		},
	}
}

type inMemoryStore struct {
	mu     sync.Mutex
	data   map[string]string
	setErr error
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{data: make(map[string]string)}
}

func (s *inMemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return value, nil
}

func (s *inMemoryStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return nil
}

func (s *inMemoryStore) value(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key]
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return false, s.setErr
	}
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("orgplans:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func (s *inMemoryStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}

type recordingCanceller struct {
	mu   sync.Mutex
	refs []string
}

func (c *recordingCanceller) CancelSubscription(_ context.Context, ref string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs = append(c.refs, ref)
	return nil
}

func (c *recordingCanceller) cancelled() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.refs...)
}

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *countingMetrics) IncWebhook(eventType, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[eventType+"/"+outcome]++
}

func (m *countingMetrics) count(eventType string, outcome Outcome) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[eventType+"/"+string(outcome)]
}

type failingApplier struct {
	err   error
	calls int
}

func (f *failingApplier) Apply(ctx context.Context, t subscriptions.Transition) (*subscriptions.Result, error) {
	f.calls++
	return nil, f.err
}
