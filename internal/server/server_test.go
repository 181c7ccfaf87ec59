package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"subtrack/internal/ai"
	"subtrack/internal/config"
	"subtrack/internal/crypto"
	"subtrack/internal/logger"
	"subtrack/internal/models"
	"subtrack/internal/notify"
	"subtrack/internal/scheduler"
	"subtrack/internal/services"
	"subtrack/internal/testutil"
	"subtrack/internal/validator"
)

const testPipelineKey = "pipeline-test-key"

func init() {
	gin.SetMode(gin.TestMode)
	logger.Init("test")
	validator.Register()
}

type dbPinger struct{ db *gorm.DB }

func (p dbPinger) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (n *recordingNotifier) Channel() string { return notify.ChannelLog }

func (n *recordingNotifier) Notify(_ context.Context, a notify.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *recordingNotifier) sent() []notify.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Alert(nil), n.alerts...)
}

// fakeOllama answers /api/generate with a settable reply and counts hits.
type fakeOllama struct {
	*httptest.Server
	reply atomic.Value
	hits  atomic.Int64
}

func newFakeOllama(t *testing.T) *fakeOllama {
	t.Helper()
	f := &fakeOllama{}
	f.reply.Store("")
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/generate":
			_ = json.NewEncoder(w).Encode(map[string]string{"model": "llama3.2", "response": f.reply.Load().(string)})
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"llama3.2"},{"name":"mistral"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

// testApp holds the full application stack for integration tests.
type testApp struct {
	DB       *gorm.DB
	Router   *gin.Engine
	Ollama   *fakeOllama
	Notifier *recordingNotifier
}

// setupApp creates a full application stack backed by an isolated in-memory SQLite.
func setupApp(t *testing.T) *testApp {
	return setupAppWithLimit(t, 100, 100)
}

func setupAppWithLimit(t *testing.T, perMinute, burst int) *testApp {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.TeardownTestDB(t, db) })

	sealer, err := crypto.NewSecretBoxFromPassphrase("integration")
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	ollama := newFakeOllama(t)
	notifier := &recordingNotifier{}

	userService := services.NewUserService(db)
	subscriptionService := services.NewSubscriptionService(db)
	auditService := services.NewAuditService(db)
	settingsService := services.NewAISettingsService(db, sealer, ollama.URL)
	aiService := services.NewAIService(settingsService, subscriptionService, ai.New, 5*time.Second, 2*time.Second)
	alertService := services.NewAlertService(db, notifier, config.AlertDedupDaily)

	router := NewRouter(Deps{
		DB:             dbPinger{db},
		Users:          userService,
		Subscriptions:  subscriptionService,
		Alerts:         alertService,
		AISettings:     settingsService,
		AI:             aiService,
		Audit:          auditService,
		Runner:         scheduler.New("0 8 * * *", subscriptionService, alertService),
		PipelineAPIKey: testPipelineKey,
		AIRateLimit:    perMinute,
		AIRateBurst:    burst,
	})

	return &testApp{DB: db, Router: router, Ollama: ollama, Notifier: notifier}
}

// request makes an HTTP request to the test router and returns the recorder.
func (app *testApp) request(method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)
	return rec
}

// parseJSON parses the response body into a map.
func parseJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var result map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, rec.Body.String())
	}
	return result
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	errObj, ok := parseJSON(t, rec)["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got %s", rec.Body.String())
	}
	code, _ := errObj["code"].(string)
	return code
}

// registerUser registers a new user and returns the access token, refresh token, and user ID.
func (app *testApp) registerUser(t *testing.T, username, email, password string) (accessToken, refreshToken, userID string) {
	t.Helper()
	body := fmt.Sprintf(`{"username":%q,"email":%q,"password":%q}`, username, email, password)
	rec := app.request("POST", "/api/v1/auth/register", body, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register failed: %d %s", rec.Code, rec.Body.String())
	}
	result := parseJSON(t, rec)
	user := result["user"].(map[string]interface{})
	return result["access_token"].(string), result["refresh_token"].(string), user["id"].(string)
}

// setupAdmin completes first-run setup and returns the admin's access token.
func (app *testApp) setupAdmin(t *testing.T) string {
	t.Helper()
	rec := app.request("POST", "/api/v1/auth/setup",
		`{"username":"admin","email":"admin@test.com","password":"password123"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("setup failed: %d %s", rec.Code, rec.Body.String())
	}
	return parseJSON(t, rec)["access_token"].(string)
}

// loginUser logs in and returns the access and refresh tokens.
func (app *testApp) loginUser(t *testing.T, email, password string) (accessToken, refreshToken string) {
	t.Helper()
	body := fmt.Sprintf(`{"email":%q,"password":%q}`, email, password)
	rec := app.request("POST", "/api/v1/auth/login", body, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	result := parseJSON(t, rec)
	return result["access_token"].(string), result["refresh_token"].(string)
}

// createSubscription creates a subscription renewing in `days` days and returns its ID.
func (app *testApp) createSubscription(t *testing.T, token, name, cost string, days int) string {
	t.Helper()
	renewal := time.Now().UTC().AddDate(0, 0, days).Format(validator.DateLayout)
	body := fmt.Sprintf(`{"name":%q,"cost":%q,"currency":"USD","billing_cycle":"monthly","next_renewal_date":%q,"category":"Streaming"}`,
		name, cost, renewal)
	rec := app.request("POST", "/api/v1/subscriptions", body, token)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create subscription failed: %d %s", rec.Code, rec.Body.String())
	}
	return parseJSON(t, rec)["subscription"].(map[string]interface{})["id"].(string)
}

func TestHealth(t *testing.T) {
	app := setupApp(t)

	rec := app.request("GET", "/api/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if parseJSON(t, rec)["status"] != "ok" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestAuthFlow_RegisterLoginProfileRefresh(t *testing.T) {
	app := setupApp(t)

	// Step 1: Register
	accessToken, refreshToken, userID := app.registerUser(t, "auth", "auth@test.com", "password123")
	if accessToken == "" || refreshToken == "" {
		t.Fatal("expected non-empty tokens from registration")
	}
	if userID == "" {
		t.Fatal("expected a user ID")
	}

	// Step 2: Login with same credentials
	loginAccess, loginRefresh := app.loginUser(t, "auth@test.com", "password123")

	// Step 3: Access profile with login access token
	rec := app.request("GET", "/api/v1/profile", "", loginAccess)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	user := parseJSON(t, rec)["user"].(map[string]interface{})
	if user["email"] != "auth@test.com" || user["username"] != "auth" || user["is_admin"] != false {
		t.Errorf("unexpected profile %v", user)
	}

	// Step 4: Refresh token
	rec = app.request("POST", "/api/v1/auth/refresh", fmt.Sprintf(`{"refresh_token":%q}`, loginRefresh), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh failed: %d %s", rec.Code, rec.Body.String())
	}
	newAccess := parseJSON(t, rec)["access_token"].(string)

	// Step 5: Access profile with new access token
	rec = app.request("GET", "/api/v1/profile", "", newAccess)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with new token, got %d: %s", rec.Code, rec.Body.String())
	}

	// Step 6: The rotated refresh token is rejected
	rec = app.request("POST", "/api/v1/auth/refresh", fmt.Sprintf(`{"refresh_token":%q}`, loginRefresh), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for reused refresh token, got %d", rec.Code)
	}

	// Step 7: A refresh token is not an access token
	rec = app.request("GET", "/api/v1/profile", "", refreshToken)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with refresh token as bearer, got %d", rec.Code)
	}
}

func TestAuthFlow_RegisterDuplicates(t *testing.T) {
	app := setupApp(t)

	app.registerUser(t, "dup", "dup@test.com", "password123")

	rec := app.request("POST", "/api/v1/auth/register",
		`{"username":"other","email":"dup@test.com","password":"password123"}`, "")
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "DUPLICATE_EMAIL" {
		t.Fatalf("expected DUPLICATE_EMAIL, got %d %s", rec.Code, rec.Body.String())
	}

	rec = app.request("POST", "/api/v1/auth/register",
		`{"username":"dup","email":"new@test.com","password":"password123"}`, "")
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "DUPLICATE_USERNAME" {
		t.Fatalf("expected DUPLICATE_USERNAME, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestAuthFlow_LoginWrongPassword(t *testing.T) {
	app := setupApp(t)

	app.registerUser(t, "wrong", "wrong@test.com", "password123")

	rec := app.request("POST", "/api/v1/auth/login",
		`{"email":"wrong@test.com","password":"wrongpassword"}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
	if code := errorCode(t, rec); code != "INVALID_CREDENTIALS" {
		t.Errorf("expected INVALID_CREDENTIALS, got %v", code)
	}
}

func TestAuthFlow_AccountLockout(t *testing.T) {
	app := setupApp(t)

	app.registerUser(t, "lockout", "lockout@test.com", "password123")

	// Fail 5 times
	for i := 0; i < 5; i++ {
		rec := app.request("POST", "/api/v1/auth/login",
			`{"email":"lockout@test.com","password":"wrong"}`, "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rec.Code)
		}
	}

	// 6th attempt should get account locked (423)
	rec := app.request("POST", "/api/v1/auth/login",
		`{"email":"lockout@test.com","password":"wrong"}`, "")
	if rec.Code != http.StatusLocked {
		t.Fatalf("expected 423 (locked), got %d: %s", rec.Code, rec.Body.String())
	}
	if code := errorCode(t, rec); code != "ACCOUNT_LOCKED" {
		t.Errorf("expected ACCOUNT_LOCKED, got %v", code)
	}

	// Even with correct password, should still be locked
	rec = app.request("POST", "/api/v1/auth/login",
		`{"email":"lockout@test.com","password":"password123"}`, "")
	if rec.Code != http.StatusLocked {
		t.Fatalf("expected 423 even with correct password while locked, got %d", rec.Code)
	}
}

func TestAuthFlow_ProfileWithoutAuth(t *testing.T) {
	app := setupApp(t)

	rec := app.request("GET", "/api/v1/profile", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = app.request("GET", "/api/v1/profile", "", "not.a.jwt")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", rec.Code)
	}
}

func TestSetupFlow(t *testing.T) {
	app := setupApp(t)

	rec := app.request("GET", "/api/v1/auth/setup", "", "")
	if parseJSON(t, rec)["setup_required"] != true {
		t.Fatalf("expected setup to be required on an empty database: %s", rec.Body.String())
	}

	token := app.setupAdmin(t)
	rec = app.request("GET", "/api/v1/profile", "", token)
	if parseJSON(t, rec)["user"].(map[string]interface{})["is_admin"] != true {
		t.Errorf("expected first user to be admin: %s", rec.Body.String())
	}

	rec = app.request("GET", "/api/v1/auth/setup", "", "")
	if parseJSON(t, rec)["setup_required"] != false {
		t.Errorf("expected setup to be complete: %s", rec.Body.String())
	}

	rec = app.request("POST", "/api/v1/auth/setup",
		`{"username":"second","email":"second@test.com","password":"password123"}`, "")
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "SETUP_COMPLETED" {
		t.Fatalf("expected SETUP_COMPLETED, got %d %s", rec.Code, rec.Body.String())
	}

	var audits int64
	app.DB.Model(&models.AuditLog{}).Where("action = ?", services.AuditSetupAdmin).Count(&audits)
	if audits != 1 {
		t.Errorf("expected one setup audit entry, got %d", audits)
	}
}

func TestSubscriptionFlow(t *testing.T) {
	app := setupApp(t)
	token, _, _ := app.registerUser(t, "subs", "subs@test.com", "password123")
	otherToken, _, _ := app.registerUser(t, "other", "other@test.com", "password123")

	netflixID := app.createSubscription(t, token, "Netflix", "15.49", 3)
	app.createSubscription(t, token, "Spotify", "9.99", 20)

	// List in renewal order
	rec := app.request("GET", "/api/v1/subscriptions", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("list failed: %d %s", rec.Code, rec.Body.String())
	}
	data := parseJSON(t, rec)["data"].([]interface{})
	if len(data) != 2 || data[0].(map[string]interface{})["name"] != "Netflix" {
		t.Fatalf("unexpected list %v", data)
	}

	// Fuzzy search
	rec = app.request("GET", "/api/v1/subscriptions?q=spfy", "", token)
	data = parseJSON(t, rec)["data"].([]interface{})
	if len(data) != 1 || data[0].(map[string]interface{})["name"] != "Spotify" {
		t.Fatalf("unexpected search result %v", data)
	}

	// Owner scoping
	rec = app.request("GET", "/api/v1/subscriptions/"+netflixID, "", otherToken)
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "SUBSCRIPTION_NOT_FOUND" {
		t.Fatalf("expected 404 for another user, got %d", rec.Code)
	}

	// Past renewal dates are rejected
	rec = app.request("POST", "/api/v1/subscriptions",
		`{"name":"Old","cost":"1","billing_cycle":"monthly","next_renewal_date":"2000-01-01"}`, token)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "INVALID_RENEWAL_DATE" {
		t.Fatalf("expected INVALID_RENEWAL_DATE, got %d %s", rec.Code, rec.Body.String())
	}

	// Dashboard and upcoming alerts only include the renewal within 7 days
	rec = app.request("GET", "/api/v1/dashboard", "", token)
	dash := parseJSON(t, rec)
	if dash["active_count"].(float64) != 2 {
		t.Errorf("active_count = %v", dash["active_count"])
	}
	totals := dash["totals"].([]interface{})
	if len(totals) != 1 || totals[0].(map[string]interface{})["monthly_cost"] != "25.48" {
		t.Errorf("totals = %v", totals)
	}
	if upcoming := dash["upcoming_renewals"].([]interface{}); len(upcoming) != 1 {
		t.Errorf("upcoming = %v", upcoming)
	}

	rec = app.request("GET", "/api/v1/alerts/upcoming", "", token)
	alerts := parseJSON(t, rec)["alerts"].([]interface{})
	if len(alerts) != 1 || alerts[0].(map[string]interface{})["days_until"].(float64) != 3 {
		t.Errorf("alerts = %v", alerts)
	}

	// Pausing drops it from the alert set
	rec = app.request("PUT", "/api/v1/subscriptions/"+netflixID, `{"status":"paused"}`, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("update failed: %d %s", rec.Code, rec.Body.String())
	}
	rec = app.request("GET", "/api/v1/alerts/upcoming", "", token)
	if parseJSON(t, rec)["count"].(float64) != 0 {
		t.Errorf("expected no alerts after pausing: %s", rec.Body.String())
	}

	// Export
	rec = app.request("GET", "/api/v1/subscriptions/export", "", token)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Netflix") {
		t.Fatalf("export failed: %d %s", rec.Code, rec.Body.String())
	}

	// Delete
	rec = app.request("DELETE", "/api/v1/subscriptions/"+netflixID, "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete failed: %d", rec.Code)
	}
	rec = app.request("GET", "/api/v1/subscriptions/"+netflixID, "", token)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}

	var audits int64
	app.DB.Model(&models.AuditLog{}).Where("resource_id = ?", netflixID).Count(&audits)
	if audits != 3 {
		t.Errorf("expected create, update and delete audit entries, got %d", audits)
	}
}

func TestAdminFlow(t *testing.T) {
	app := setupApp(t)
	adminToken := app.setupAdmin(t)
	userToken, _, _ := app.registerUser(t, "plain", "plain@test.com", "password123")

	rec := app.request("GET", "/api/v1/admin/ai/providers", "", userToken)
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "ADMIN_REQUIRED" {
		t.Fatalf("expected ADMIN_REQUIRED, got %d", rec.Code)
	}

	rec = app.request("GET", "/api/v1/admin/ai/providers", "", adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("list providers failed: %d %s", rec.Code, rec.Body.String())
	}
	if providers := parseJSON(t, rec)["providers"].([]interface{}); len(providers) != 3 {
		t.Fatalf("expected 3 providers, got %d", len(providers))
	}

	// A remote provider cannot be enabled without a key
	rec = app.request("PUT", "/api/v1/admin/ai/providers/claude", `{"enabled":true}`, adminToken)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "INVALID_PROVIDER_CONFIG" {
		t.Fatalf("expected INVALID_PROVIDER_CONFIG, got %d %s", rec.Code, rec.Body.String())
	}

	// A stored key is never echoed back
	rec = app.request("PUT", "/api/v1/admin/ai/providers/claude", `{"api_key":"sk-ant-secret","enabled":true}`, adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("enable claude failed: %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "sk-ant-secret") {
		t.Fatal("api key leaked in response")
	}

	// Enabling ollama disables claude
	rec = app.request("PUT", "/api/v1/admin/ai/providers/ollama", `{"enabled":true}`, adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("enable ollama failed: %d %s", rec.Code, rec.Body.String())
	}
	rec = app.request("GET", "/api/v1/admin/ai/providers", "", adminToken)
	enabled := 0
	for _, p := range parseJSON(t, rec)["providers"].([]interface{}) {
		view := p.(map[string]interface{})
		if view["enabled"] == true {
			enabled++
			if view["kind"] != "ollama" {
				t.Errorf("expected ollama to be the enabled provider, got %v", view["kind"])
			}
		}
	}
	if enabled != 1 {
		t.Errorf("expected exactly one enabled provider, got %d", enabled)
	}

	rec = app.request("POST", "/api/v1/admin/ai/providers/ollama/test", "", adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("connection test failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = app.request("GET", "/api/v1/admin/ai/providers/ollama/models", "", adminToken)
	if got := parseJSON(t, rec)["models"].([]interface{}); len(got) != 2 {
		t.Errorf("models = %v", got)
	}

	var audits int64
	app.DB.Model(&models.AuditLog{}).Where("action = ?", services.AuditUpdateAIProvider).Count(&audits)
	if audits != 2 {
		t.Errorf("expected 2 provider audit entries, got %d", audits)
	}
	var leaked int64
	app.DB.Model(&models.AuditLog{}).Where("changes LIKE ?", "%sk-ant-secret%").Count(&leaked)
	if leaked != 0 {
		t.Error("api key leaked into the audit log")
	}
}

func TestAIFlow(t *testing.T) {
	app := setupApp(t)
	adminToken := app.setupAdmin(t)
	token, _, _ := app.registerUser(t, "aiuser", "ai@test.com", "password123")

	// AI off: every feature is refused without touching the provider
	rec := app.request("GET", "/api/v1/ai/analysis", "", token)
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "FEATURE_DISABLED" {
		t.Fatalf("expected FEATURE_DISABLED, got %d %s", rec.Code, rec.Body.String())
	}
	rec = app.request("GET", "/api/v1/ai/features", "", token)
	if parseJSON(t, rec)["chat"] != false {
		t.Errorf("expected chat off: %s", rec.Body.String())
	}

	rec = app.request("PUT", "/api/v1/admin/ai/providers/ollama", `{"enabled":true,"feature_chat":false}`, adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("enable ollama failed: %d %s", rec.Code, rec.Body.String())
	}

	// Empty portfolio gets a canned answer without a provider call
	rec = app.request("GET", "/api/v1/ai/analysis", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("analysis failed: %d %s", rec.Code, rec.Body.String())
	}
	if app.Ollama.hits.Load() != 0 {
		t.Errorf("expected no provider calls, got %d", app.Ollama.hits.Load())
	}

	subID := app.createSubscription(t, token, "Netflix", "15.49", 10)
	app.Ollama.reply.Store(`Here you go: [{"name":"Hulu","description":"Streaming","price":"$7.99/month","differences":"Ads"}]`)
	rec = app.request("POST", "/api/v1/ai/alternatives/"+subID, "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("alternatives failed: %d %s", rec.Code, rec.Body.String())
	}
	alts := parseJSON(t, rec)["alternatives"].([]interface{})
	if len(alts) != 1 || alts[0].(map[string]interface{})["name"] != "Hulu" {
		t.Errorf("alternatives = %v", alts)
	}

	app.Ollama.reply.Store("I cannot help with that.")
	rec = app.request("POST", "/api/v1/ai/alternatives/"+subID, "", token)
	if rec.Code != http.StatusServiceUnavailable || errorCode(t, rec) != "MALFORMED_RESPONSE" {
		t.Errorf("expected MALFORMED_RESPONSE, got %d %s", rec.Code, rec.Body.String())
	}

	// Chat was switched off by the admin
	rec = app.request("POST", "/api/v1/ai/chat", `{"message":"hi"}`, token)
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "FEATURE_DISABLED" {
		t.Errorf("expected FEATURE_DISABLED for chat, got %d", rec.Code)
	}
}

func TestAIRateLimit(t *testing.T) {
	app := setupAppWithLimit(t, 1, 2)
	token, _, _ := app.registerUser(t, "limited", "limited@test.com", "password123")

	for i := 0; i < 2; i++ {
		rec := app.request("GET", "/api/v1/ai/recommendations", "", token)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("call %d: expected 403 while AI is off, got %d", i+1, rec.Code)
		}
	}
	rec := app.request("GET", "/api/v1/ai/recommendations", "", token)
	if rec.Code != http.StatusTooManyRequests || errorCode(t, rec) != "RATE_LIMITED" {
		t.Fatalf("expected RATE_LIMITED, got %d %s", rec.Code, rec.Body.String())
	}

	// Feature discovery is not limited
	rec = app.request("GET", "/api/v1/ai/features", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected features to stay available, got %d", rec.Code)
	}
}

func TestAlertRunAndPipeline(t *testing.T) {
	app := setupApp(t)
	adminToken := app.setupAdmin(t)
	token, _, _ := app.registerUser(t, "alerts", "alerts@test.com", "password123")
	app.createSubscription(t, token, "Netflix", "15.49", 2)

	// Pipeline requires the API key
	rec := app.request("GET", "/api/v1/pipeline/alerts/due", "", "")
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "INVALID_API_KEY" {
		t.Fatalf("expected INVALID_API_KEY, got %d", rec.Code)
	}
	req := httptest.NewRequest("GET", "/api/v1/pipeline/alerts/due", http.NoBody)
	req.Header.Set("X-API-Key", testPipelineKey)
	pipeRec := httptest.NewRecorder()
	app.Router.ServeHTTP(pipeRec, req)
	if pipeRec.Code != http.StatusOK || parseJSON(t, pipeRec)["count"].(float64) != 1 {
		t.Fatalf("unexpected pipeline response %d %s", pipeRec.Code, pipeRec.Body.String())
	}

	// Only admins may trigger a run
	rec = app.request("POST", "/api/v1/admin/alerts/run", "", token)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}

	rec = app.request("POST", "/api/v1/admin/alerts/run", "", adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("run failed: %d %s", rec.Code, rec.Body.String())
	}
	alerts := parseJSON(t, rec)["alerts"].(map[string]interface{})
	if alerts["sent"].(float64) != 1 {
		t.Errorf("expected one alert sent, got %v", alerts)
	}
	sent := app.Notifier.sent()
	if len(sent) != 1 || sent[0].To != "alerts@test.com" || sent[0].DaysUntil != 2 {
		t.Errorf("unexpected notifications %+v", sent)
	}

	// Same day again: deduplicated
	rec = app.request("POST", "/api/v1/admin/alerts/run", "", adminToken)
	alerts = parseJSON(t, rec)["alerts"].(map[string]interface{})
	if alerts["sent"].(float64) != 0 || alerts["skipped"].(float64) != 1 {
		t.Errorf("expected the alert to be skipped, got %v", alerts)
	}
	if len(app.Notifier.sent()) != 1 {
		t.Error("expected no second notification")
	}
}
