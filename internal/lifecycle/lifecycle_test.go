package lifecycle

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tenant-service/internal/model"
	"tenant-service/internal/registry"
	"tenant-service/pkg/config"
)

// fakeExec records schema DDL calls.
type fakeExec struct {
	mu      sync.Mutex
	dropped []string
	dropErr error
}

func (f *fakeExec) ExecDDL(ctx context.Context, stmts []string) error { return nil }

func (f *fakeExec) DropSchema(ctx context.Context, schema string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dropErr != nil {
		return f.dropErr
	}
	f.dropped = append(f.dropped, schema)
	return nil
}

// fakeDumper serves canned rows per table.
type fakeDumper struct {
	rows map[string][]map[string]interface{}
	err  error
}

func (f *fakeDumper) DumpTable(ctx context.Context, schema, table string, tenantID uint) ([]map[string]interface{}, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[table], nil
}

// fakeStore is an in-memory blob store.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	putErr  error
	delErr  error
	presign string
	signErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, presign: "https://store.example/signed"}
}

func (f *fakeStore) Put(ctx context.Context, key string, data []byte, expiry time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.objects[key] = data
	return nil
}

func (f *fakeStore) DeletePrefix(ctx context.Context, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delErr != nil {
		return f.delErr
	}
	f.deleted = append(f.deleted, prefix)
	return nil
}

func (f *fakeStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	return f.presign, nil
}

// fakeNotifier records sent notifications.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (f *fakeNotifier) Send(ctx context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeNotifier) notifications() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.sent...)
}

// fakeSessions records invalidated users.
type fakeSessions struct {
	mu          sync.Mutex
	invalidated []uint
	err         error
}

func (f *fakeSessions) InvalidateAll(ctx context.Context, userID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.invalidated = append(f.invalidated, userID)
	return nil
}

type testEnv struct {
	orch     *Orchestrator
	reg      *registry.Registry
	db       *gorm.DB
	exec     *fakeExec
	dumper   *fakeDumper
	store    *fakeStore
	notifier *fakeNotifier
	sessions *fakeSessions
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "lifecycle.db")), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.User{},
		&model.Tenant{},
		&model.Membership{},
		&model.LifecycleJob{},
		&model.DeletionAuditRecord{},
	))

	env := &testEnv{
		reg:      registry.New(db),
		db:       db,
		exec:     &fakeExec{},
		dumper:   &fakeDumper{rows: map[string][]map[string]interface{}{}},
		store:    newFakeStore(),
		notifier: &fakeNotifier{},
		sessions: &fakeSessions{},
	}
	env.orch = New(env.reg, env.exec, env.dumper, env.store, env.notifier, env.sessions,
		config.LifecycleConfig{ExportCooldown: time.Hour, ArtifactTTL: time.Hour}, zap.NewNop())
	return env
}

// seedReadyTenant creates a ready tenant with an owner and n-1 extra members.
func (e *testEnv) seedReadyTenant(t *testing.T, slug string, memberCount int) (*model.Tenant, []model.User) {
	t.Helper()
	ctx := context.Background()

	tenant := &model.Tenant{
		Name:       "Tenant " + slug,
		Slug:       slug,
		SchemaName: "tenant_" + slug,
		Status:     model.StatusReady,
	}
	require.NoError(t, e.reg.Create(ctx, tenant))

	var users []model.User
	for i := 0; i < memberCount; i++ {
		u := model.User{Email: fmt.Sprintf("user%d@%s.example", i, slug)}
		require.NoError(t, e.db.Create(&u).Error)
		role := model.RoleMember
		if i == 0 {
			role = model.RoleOwner
			require.NoError(t, e.db.Model(&u).Update("default_tenant_id", tenant.ID).Error)
		}
		require.NoError(t, e.reg.AddMembership(ctx, &model.Membership{
			UserID: u.ID, TenantID: tenant.ID, Role: role, IsDefault: i == 0,
		}))
		users = append(users, u)
	}
	return tenant, users
}

func (e *testEnv) reloadJob(t *testing.T, id string) *model.LifecycleJob {
	t.Helper()
	job, err := e.orch.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}
