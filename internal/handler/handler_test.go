package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tenant-service/internal/isolation"
	"tenant-service/internal/lifecycle"
	"tenant-service/internal/model"
	"tenant-service/internal/provision"
	"tenant-service/internal/registry"
	"tenant-service/pkg/config"
	"tenant-service/pkg/database"
	"tenant-service/pkg/jwtutil"
)

func init() {
	jwtutil.Initialize(&config.JWTConfig{
		SigningKey:       "test-signing-key",
		ExpirationHours:  1,
		ReauthExpiryMins: 5,
	})
}

type noopExec struct{}

func (noopExec) ExecDDL(ctx context.Context, stmts []string) error   { return nil }
func (noopExec) DropSchema(ctx context.Context, schema string) error { return nil }

type noopDumper struct{}

func (noopDumper) DumpTable(ctx context.Context, schema, table string, tenantID uint) ([]map[string]interface{}, error) {
	return nil, nil
}

type noopStore struct{}

func (noopStore) Put(ctx context.Context, key string, data []byte, expiry time.Duration) error {
	return nil
}
func (noopStore) DeletePrefix(ctx context.Context, prefix string) error { return nil }
func (noopStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://store.example/signed", nil
}

type noopNotifier struct{}

func (noopNotifier) Send(ctx context.Context, n lifecycle.Notification) error { return nil }

type noopSessions struct{}

func (noopSessions) InvalidateAll(ctx context.Context, userID uint) error { return nil }

type handlerFixture struct {
	db   *gorm.DB
	reg  *registry.Registry
	prov *provision.Provisioner
	orch *lifecycle.Orchestrator
}

func setup(t *testing.T) *handlerFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "handler.db")), &gorm.Config{
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
	database.DB = db

	f := &handlerFixture{db: db, reg: registry.New(db)}
	exec := isolation.SchemaExecutor(noopExec{})
	f.prov = provision.New(f.reg, exec, config.ProvisionConfig{MaxDuration: 30 * time.Second, MaxSlugAttempts: 5}, zap.NewNop())
	f.orch = lifecycle.New(f.reg, exec, noopDumper{}, noopStore{}, noopNotifier{}, noopSessions{},
		config.LifecycleConfig{ExportCooldown: time.Hour, ArtifactTTL: time.Hour}, zap.NewNop())
	Init(f.reg, f.prov, f.orch)
	return f
}

func (f *handlerFixture) newUser(t *testing.T, email, password string) *model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := &model.User{Email: email, Password: string(hash)}
	require.NoError(t, f.db.Create(u).Error)
	return u
}

// call invokes a handler directly with a JSON body and optional path
// parameters and preset context values.
func call(t *testing.T, h echo.HandlerFunc, method, body string, params map[string]string, preset map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	names := make([]string, 0, len(params))
	values := make([]string, 0, len(params))
	for k, v := range params {
		names = append(names, k)
		values = append(values, v)
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	for k, v := range preset {
		c.Set(k, v)
	}

	require.NoError(t, h(c))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRegisterAndLogin(t *testing.T) {
	setup(t)

	rec := call(t, Register, http.MethodPost, `{"email":"user@example.com","password":"correct horse"}`, nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Short passwords are rejected up front.
	rec = call(t, Register, http.MethodPost, `{"email":"short@example.com","password":"short"}`, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Duplicate email.
	rec = call(t, Register, http.MethodPost, `{"email":"user@example.com","password":"correct horse"}`, nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = call(t, Login, http.MethodPost, `{"email":"user@example.com","password":"wrong"}`, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(t, Login, http.MethodPost, `{"email":"user@example.com","password":"correct horse"}`, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	token, _ := decode(t, rec)["token"].(string)
	require.NotEmpty(t, token)

	claims, err := jwtutil.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", claims.Email)
}

func TestLogin_TenantMembershipVerified(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.newUser(t, "user@example.com", "correct horse")
	tenant := &model.Tenant{Name: "Acme", Slug: "acme", SchemaName: "tenant_acme", Status: model.StatusReady}
	require.NoError(t, f.reg.Create(ctx, tenant))

	// Requesting a tenant the user does not belong to is refused even with
	// valid credentials.
	rec := call(t, Login, http.MethodPost, `{"email":"user@example.com","password":"correct horse","tenant_id":1}`, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateTenant_Accepted(t *testing.T) {
	f := setup(t)
	user := f.newUser(t, "owner@example.com", "correct horse")

	rec := call(t, CreateTenant, http.MethodPost, `{"name":"Acme Corp"}`, nil,
		map[string]interface{}{"user_id": user.ID})
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "acme-corp", body["slug"])
	assert.Equal(t, "pending", body["status"])

	f.prov.Wait()

	tenant, err := f.reg.GetBySlug(context.Background(), "acme-corp")
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, tenant.Status)
}

func TestCreateTenant_RequiresAuth(t *testing.T) {
	setup(t)
	rec := call(t, CreateTenant, http.MethodPost, `{"name":"Acme"}`, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetTenantStatus_MembershipRequired(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	member := f.newUser(t, "member@example.com", "correct horse")
	outsider := f.newUser(t, "outsider@example.com", "correct horse")
	tenant := &model.Tenant{Name: "Acme", Slug: "acme", SchemaName: "tenant_acme", Status: model.StatusProvisioning}
	require.NoError(t, f.reg.Create(ctx, tenant))
	require.NoError(t, f.reg.AddMembership(ctx, &model.Membership{UserID: member.ID, TenantID: tenant.ID, Role: model.RoleOwner}))

	rec := call(t, GetTenantStatus, http.MethodGet, "", map[string]string{"id": "1"},
		map[string]interface{}{"user_id": member.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "provisioning", decode(t, rec)["status"])

	// Non-members get the same denial whether or not the tenant exists.
	rec = call(t, GetTenantStatus, http.MethodGet, "", map[string]string{"id": "1"},
		map[string]interface{}{"user_id": outsider.ID})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, GetTenantStatus, http.MethodGet, "", map[string]string{"id": "999"},
		map[string]interface{}{"user_id": outsider.ID})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequestExport_RoleRequired(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	viewer := f.newUser(t, "viewer@example.com", "correct horse")
	tenant := &model.Tenant{Name: "Acme", Slug: "acme", SchemaName: "tenant_acme", Status: model.StatusReady}
	require.NoError(t, f.reg.Create(ctx, tenant))
	require.NoError(t, f.reg.AddMembership(ctx, &model.Membership{UserID: viewer.ID, TenantID: tenant.ID, Role: model.RoleViewer}))

	rec := call(t, RequestExport, http.MethodPost, "", map[string]string{"id": "1"},
		map[string]interface{}{"user_id": viewer.ID, "email": viewer.Email})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequestExport_Accepted(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	admin := f.newUser(t, "admin@example.com", "correct horse")
	tenant := &model.Tenant{Name: "Acme", Slug: "acme", SchemaName: "tenant_acme", Status: model.StatusReady}
	require.NoError(t, f.reg.Create(ctx, tenant))
	require.NoError(t, f.reg.AddMembership(ctx, &model.Membership{UserID: admin.ID, TenantID: tenant.ID, Role: model.RoleAdmin}))

	rec := call(t, RequestExport, http.MethodPost, "", map[string]string{"id": "1"},
		map[string]interface{}{"user_id": admin.ID, "email": admin.Email})
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID, _ := decode(t, rec)["job_id"].(string)
	require.NotEmpty(t, jobID)

	f.orch.Wait()

	rec = call(t, GetJob, http.MethodGet, "", map[string]string{"id": jobID},
		map[string]interface{}{"user_id": admin.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decode(t, rec)["status"])
}

func TestRequestDeletion_OwnerOnly(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	admin := f.newUser(t, "admin@example.com", "correct horse")
	tenant := &model.Tenant{Name: "Acme", Slug: "acme", SchemaName: "tenant_acme", Status: model.StatusReady}
	require.NoError(t, f.reg.Create(ctx, tenant))
	require.NoError(t, f.reg.AddMembership(ctx, &model.Membership{UserID: admin.ID, TenantID: tenant.ID, Role: model.RoleAdmin}))

	token, err := jwtutil.GenerateReauthToken(admin.Email, admin.ID)
	require.NoError(t, err)

	// Admins can manage the tenant but only the owner can destroy it.
	rec := call(t, RequestDeletion, http.MethodPost,
		`{"confirmation_name":"Acme","reauth_token":"`+token+`"}`,
		map[string]string{"id": "1"},
		map[string]interface{}{"user_id": admin.ID, "email": admin.Email})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequestDeletion_Flow(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	owner := f.newUser(t, "owner@example.com", "correct horse")
	tenant := &model.Tenant{Name: "Acme", Slug: "acme", SchemaName: "tenant_acme", Status: model.StatusReady}
	require.NoError(t, f.reg.Create(ctx, tenant))
	require.NoError(t, f.reg.AddMembership(ctx, &model.Membership{UserID: owner.ID, TenantID: tenant.ID, Role: model.RoleOwner}))

	token, err := jwtutil.GenerateReauthToken(owner.Email, owner.ID)
	require.NoError(t, err)

	rec := call(t, RequestDeletion, http.MethodPost,
		`{"confirmation_name":"Acme","reauth_token":"`+token+`"}`,
		map[string]string{"id": "1"},
		map[string]interface{}{"user_id": owner.ID, "email": owner.Email})
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID, _ := decode(t, rec)["job_id"].(string)

	f.orch.Wait()

	// The requester keeps visibility into the job after their membership is
	// gone.
	rec = call(t, GetJob, http.MethodGet, "", map[string]string{"id": jobID},
		map[string]interface{}{"user_id": owner.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decode(t, rec)["status"])

	got, err := f.reg.GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeleted, got.Status)
}

func TestGetJob_MembershipRequired(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	admin := f.newUser(t, "admin@example.com", "correct horse")
	outsider := f.newUser(t, "outsider@example.com", "correct horse")
	tenant := &model.Tenant{Name: "Acme", Slug: "acme", SchemaName: "tenant_acme", Status: model.StatusReady}
	require.NoError(t, f.reg.Create(ctx, tenant))
	require.NoError(t, f.reg.AddMembership(ctx, &model.Membership{UserID: admin.ID, TenantID: tenant.ID, Role: model.RoleAdmin}))

	job, err := f.orch.RequestExport(ctx, tenant.ID, admin.ID, admin.Email)
	require.NoError(t, err)
	f.orch.Wait()

	rec := call(t, GetJob, http.MethodGet, "", map[string]string{"id": job.ID},
		map[string]interface{}{"user_id": outsider.ID})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReauth(t *testing.T) {
	f := setup(t)
	user := f.newUser(t, "user@example.com", "correct horse")

	rec := call(t, Reauth, http.MethodPost, `{"password":"wrong"}`, nil,
		map[string]interface{}{"user_id": user.ID})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(t, Reauth, http.MethodPost, `{"password":"correct horse"}`, nil,
		map[string]interface{}{"user_id": user.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	token, _ := decode(t, rec)["reauth_token"].(string)
	claims, err := jwtutil.ValidateReauthToken(token, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "reauth", claims.Purpose)
}
