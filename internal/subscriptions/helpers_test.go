package subscriptions

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/orgplans-backend/internal/plans"
	pkgdb "github.com/angelmondragon/orgplans-backend/pkg/db"
	"github.com/angelmondragon/orgplans-backend/pkg/db/models"
)

var fixedNow = time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)

type harness struct {
	conn     *gorm.DB
	client   *pkgdb.Client
	repo     Repository
	catalog  *plans.Catalog
	notifier *recordingNotifier
	applier  *Applier
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
		plans.IDEventPack10: "price_pack10",
		plans.IDProClub:     "price_club",
		plans.IDProPME:      "price_pme",
	})
	require.NoError(t, err)

	h := &harness{
		conn:     conn,
		client:   pkgdb.Wrap(conn),
		repo:     NewRepository(conn),
		catalog:  catalog,
		notifier: &recordingNotifier{},
	}
	h.applier = h.newApplier(t, h.repo)
	return h
}

func (h *harness) newApplier(t *testing.T, repo Repository) *Applier {
	t.Helper()
	applier, err := NewApplier(ApplierParams{
		DB:       h.client,
		Repo:     repo,
		Catalog:  h.catalog,
		Notifier: h.notifier,
		Now:      func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return applier
}

func (h *harness) load(t *testing.T, orgID uuid.UUID) models.OrgSubscription {
	t.Helper()
	sub, err := h.repo.FindByOrganization(context.Background(), orgID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	return *sub
}

func (h *harness) seed(t *testing.T, sub models.OrgSubscription) {
	t.Helper()
	require.NoError(t, h.conn.Create(&sub).Error)
}

func (h *harness) appliedCount(t *testing.T, orgID uuid.UUID) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.conn.Model(&models.AppliedBillingEvent{}).Where("organization_id = ?", orgID).Count(&count).Error)
	return count
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []Change
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, tx *gorm.DB, change Change) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		// Write something first so the savepoint rollback has work to undo.
		_ = tx.Exec("UPDATE org_subscriptions SET plan_id = 'corrupted' WHERE organization_id = ?", change.After.OrganizationID).Error
		return n.err
	}
	n.changes = append(n.changes, change)
	return nil
}

type sharedConflicts struct {
	remaining int
}

type flakyRepo struct {
	Repository
	state *sharedConflicts
}

func (r *flakyRepo) WithTx(tx *gorm.DB) Repository {
	return &flakyRepo{Repository: r.Repository.WithTx(tx), state: r.state}
}

func (r *flakyRepo) CompareAndUpdate(ctx context.Context, next *models.OrgSubscription, expectedVersion int64) (bool, error) {
	if r.state.remaining > 0 {
		r.state.remaining--
		return false, nil
	}
	return r.Repository.CompareAndUpdate(ctx, next, expectedVersion)
}

type stubCanceler struct {
	calls           []string
	err             error
	portalURL       string
	portalCustomers []string
}

func (s *stubCanceler) CancelSubscription(_ context.Context, ref string) error {
	s.calls = append(s.calls, ref)
	return s.err
}

func (s *stubCanceler) CreatePortalSession(_ context.Context, customerRef, _ string) (string, error) {
	s.portalCustomers = append(s.portalCustomers, customerRef)
	return s.portalURL, nil
}

var errGatewayDown = errors.New("gateway unavailable")

func strRef(v string) *string { return &v }
func intRef(v int) *int       { return &v }
