package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	identity "github.com/clinicore/identity"
	"github.com/clinicore/identity/jwt"
	promexport "github.com/clinicore/identity/metrics/export/prometheus"
	"github.com/clinicore/identity/store/memory"
)

const testKey = "0123456789abcdef0123456789abcdef"

type captureMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func (m *captureMailer) keep(kind, code string) identity.MailResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes == nil {
		m.codes = map[string]string{}
	}
	m.codes[kind] = code
	return identity.MailResult{Delivered: true, MessageID: kind}
}

func (m *captureMailer) SendVerification(_ context.Context, _ identity.Recipient, code string, _ time.Duration) identity.MailResult {
	return m.keep("verification", code)
}

func (m *captureMailer) SendLoginCode(_ context.Context, _ identity.Recipient, code string, _ time.Duration) identity.MailResult {
	return m.keep("login", code)
}

func (m *captureMailer) SendPasswordReset(_ context.Context, _ identity.Recipient, code string, _ time.Duration) identity.MailResult {
	return m.keep("reset", code)
}

func (m *captureMailer) code(kind string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[kind]
}

type apiEnv struct {
	router *gin.Engine
	engine *identity.Engine
	mail   *captureMailer
	audit  *identity.MemorySink
}

func testConfig() identity.Config {
	cfg := identity.DefaultConfig()
	cfg.JWT.PrivateKey = []byte(testKey)
	cfg.Password.Algorithm = "bcrypt"
	cfg.Password.BcryptCost = 4
	cfg.Audit.DropIfFull = false
	return cfg
}

func newAPIEnv(t *testing.T, mutate func(*Dependencies)) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &apiEnv{mail: &captureMailer{}, audit: identity.NewMemorySink(256)}
	engine, err := identity.New().
		WithConfig(testConfig()).
		WithStore(memory.New()).
		WithMailer(env.mail).
		WithAuditSink(env.audit).
		WithLogger(zaptest.NewLogger(t)).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	env.engine = engine

	deps := Dependencies{
		Engine:  engine,
		Logger:  zaptest.NewLogger(t),
		Audit:   env.audit,
		Metrics: promexport.NewPrometheusExporter(engine).Handler(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	env.router = NewRouter(deps)
	return env
}

func (env *apiEnv) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "router-test")
	for k, v := range header {
		req.Header[k] = v
	}

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func (env *apiEnv) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return env.do(t, http.MethodPost, path, body, nil)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func mintAccess(t *testing.T, id jwt.Identity) string {
	t.Helper()
	cfg := testConfig()
	m, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte(testKey),
		Issuer:        cfg.JWT.Issuer,
	})
	require.NoError(t, err)
	token, _, err := m.CreateAccess(id)
	require.NoError(t, err)
	return token
}

func TestHealth(t *testing.T) {
	env := newAPIEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["message"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestReadiness(t *testing.T) {
	env := newAPIEnv(t, func(d *Dependencies) {
		d.Readiness = map[string]ReadinessCheck{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		}
	})

	rec := env.do(t, http.MethodGet, "/ready", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.Equal(t, "connection refused", body.Checks["redis"])
	assert.Equal(t, "not ready", body.Message)
}

func TestAliceScenarioOverHTTP(t *testing.T) {
	env := newAPIEnv(t, nil)
	const email = "alice@test.com"

	rec := env.post(t, "/auth/sign-up", map[string]string{
		"email":         email,
		"password":      "Passw0rd!",
		"fullname":      "Alice",
		"date_of_birth": "1990-01-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	user := decode(t, rec)["user"].(map[string]any)
	assert.Equal(t, "PENDING", user["status"])
	assert.Regexp(t, `^[1-9][0-9]{5}$`, env.mail.code("verification"))

	rec = env.post(t, "/auth/verify-email", map[string]string{"email": email, "verificationCode": "000000"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid code", decode(t, rec)["message"])

	rec = env.post(t, "/auth/verify-email", map[string]string{"email": email, "verificationCode": env.mail.code("verification")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ACTIVE", decode(t, rec)["user"].(map[string]any)["status"])

	for i := 1; i <= 4; i++ {
		rec = env.post(t, "/auth/sign-in", map[string]string{"email": email, "password": "Wrong0rd!"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.EqualValues(t, 5-i, decode(t, rec)["attemptsRemaining"])
	}
	rec = env.post(t, "/auth/sign-in", map[string]string{"email": email, "password": "Wrong0rd!"})
	require.Equal(t, http.StatusLocked, rec.Code)
	assert.Contains(t, decode(t, rec)["message"], "locked")

	rec = env.post(t, "/auth/sign-in", map[string]string{"email": email, "password": "Passw0rd!"})
	require.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "account locked", decode(t, rec)["message"])

	rec = env.post(t, "/auth/password-reset", map[string]string{"email": email})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode(t, rec)["expiresAt"])

	rec = env.post(t, "/auth/verify-password", map[string]string{
		"email":       email,
		"code":        env.mail.code("reset"),
		"newPassword": "N3wPass#",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "password updated", decode(t, rec)["message"])

	rec = env.post(t, "/auth/sign-in", map[string]string{"email": email, "password": "N3wPass#"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, email, decode(t, rec)["email"])

	rec = env.post(t, "/auth/verify-2fa", map[string]string{"email": email, "code": env.mail.code("login")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	login := decode(t, rec)
	access, _ := login["accessToken"].(string)
	refresh, _ := login["refreshToken"].(string)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)
	assert.Equal(t, "USER", login["user"].(map[string]any)["role"])

	rec = env.post(t, "/auth/refresh-token", map[string]string{"refreshToken": refresh})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode(t, rec)["accessToken"])

	rec = env.post(t, "/auth/logout", map[string]string{"refreshToken": refresh})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.post(t, "/auth/logout", map[string]string{"refreshToken": refresh})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid or expired token", decode(t, rec)["message"])

	// A USER access token cannot read the audit log.
	rec = env.do(t, http.MethodGet, "/audit-logs", nil, bearer(access))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestResendVerificationAndDuplicateSignUp(t *testing.T) {
	env := newAPIEnv(t, nil)
	body := map[string]string{
		"email":            "bob@test.com",
		"current_password": "Passw0rd!",
		"fullname":         "Bob",
		"date_of_birth":    "1985-07-30",
	}

	require.Equal(t, http.StatusCreated, env.post(t, "/auth/sign-up", body).Code)

	rec := env.post(t, "/auth/sign-up", body)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "email already registered", decode(t, rec)["message"])

	first := env.mail.code("verification")
	rec = env.post(t, "/auth/resend-verification", map[string]string{"email": "bob@test.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode(t, rec)["expiresAt"])
	assert.Regexp(t, `^[1-9][0-9]{5}$`, env.mail.code("verification"))
	assert.Regexp(t, `^[1-9][0-9]{5}$`, first)

	rec = env.post(t, "/auth/resend-verification", map[string]string{"email": "nobody@test.com"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidationErrorsCarryFieldAndRule(t *testing.T) {
	env := newAPIEnv(t, nil)

	rec := env.post(t, "/auth/sign-up", map[string]string{
		"email":         "not-an-email",
		"password":      "Passw0rd!",
		"fullname":      "Alice",
		"date_of_birth": "1990-01-01",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "email", body["field"])
	assert.Equal(t, "format", body["rule"])
	assert.NotEmpty(t, body["message"])
}

func TestMalformedPayload(t *testing.T) {
	env := newAPIEnv(t, nil)

	for _, path := range []string{"/auth/sign-up", "/auth/sign-in", "/auth/verify-2fa", "/auth/logout"} {
		rec := env.post(t, path, "{not json")
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, "invalid request payload", decode(t, rec)["message"], path)
	}
}

func TestUnverifiedSignInIsForbidden(t *testing.T) {
	env := newAPIEnv(t, nil)
	require.Equal(t, http.StatusCreated, env.post(t, "/auth/sign-up", map[string]string{
		"email":         "carol@test.com",
		"password":      "Passw0rd!",
		"fullname":      "Carol",
		"date_of_birth": "1970-02-02",
	}).Code)

	rec := env.post(t, "/auth/sign-in", map[string]string{"email": "carol@test.com", "password": "Passw0rd!"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "account not verified", decode(t, rec)["message"])
}

func TestAuditLogsForAdmin(t *testing.T) {
	env := newAPIEnv(t, nil)

	require.Equal(t, http.StatusCreated, env.post(t, "/auth/sign-up", map[string]string{
		"email":         "dave@test.com",
		"password":      "Passw0rd!",
		"fullname":      "Dave",
		"date_of_birth": "1999-09-09",
	}).Code)
	env.post(t, "/auth/sign-in", map[string]string{"email": "nobody@test.com", "password": "Passw0rd!"})

	rec := env.do(t, http.MethodGet, "/audit-logs", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	admin := mintAccess(t, jwt.Identity{UserID: "admin-1", Email: "admin@test.com", Role: "ADMIN"})

	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/audit-logs?email=dave@test.com&action=register", nil, bearer(admin))
		if rec.Code != http.StatusOK {
			return false
		}
		var body AuditLogsResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			return false
		}
		return body.Count == 1 && body.Logs[0].Action == identity.AuditRegister && body.Logs[0].UserAgent == "router-test"
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/audit-logs?outcome=failure&limit=5", nil, bearer(admin))
		var body AuditLogsResponse
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
		return rec.Code == http.StatusOK && body.Count == 1 && body.Logs[0].Action == identity.AuditLogin
	}, time.Second, 10*time.Millisecond)

	rec = env.do(t, http.MethodGet, "/audit-logs?limit=-1", nil, bearer(admin))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditLogsWithoutQuerier(t *testing.T) {
	env := newAPIEnv(t, func(d *Dependencies) { d.Audit = nil })
	admin := mintAccess(t, jwt.Identity{UserID: "admin-1", Role: "ADMIN"})

	rec := env.do(t, http.MethodGet, "/audit-logs", nil, bearer(admin))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "audit log unavailable", decode(t, rec)["message"])
}

func TestMetricsRoute(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.post(t, "/auth/sign-up", map[string]string{"email": "bad"})

	rec := env.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "identity_register_failure_total 1")
}

func TestCORSPreflight(t *testing.T) {
	env := newAPIEnv(t, func(d *Dependencies) { d.AllowedOrigins = []string{"https://clinic.example"} })

	header := http.Header{
		"Origin":                        []string{"https://clinic.example"},
		"Access-Control-Request-Method": []string{"POST"},
	}
	rec := env.do(t, http.MethodOptions, "/auth/sign-in", nil, header)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://clinic.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRespondWithMappedError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"conflict", identity.ErrAlreadyVerified, http.StatusConflict},
		{"expired", identity.ErrCodeExpired, http.StatusBadRequest},
		{"no pending", identity.ErrNoPendingVerification, http.StatusBadRequest},
		{"rate limited", identity.ErrRateLimited, http.StatusTooManyRequests},
		{"mail", identity.ErrMailDelivery, http.StatusBadGateway},
		{"store", errors.Join(identity.ErrStoreUnavailable, errors.New("dial tcp")), http.StatusServiceUnavailable},
		{"limiter", identity.ErrLimiterUnavailable, http.StatusServiceUnavailable},
		{"not ready", identity.ErrEngineNotReady, http.StatusServiceUnavailable},
		{"credentials", &identity.CredentialsError{Attempts: 2, Remaining: 3}, http.StatusUnauthorized},
		{"credentials locked", &identity.CredentialsError{Attempts: 5, Locked: true}, http.StatusLocked},
		{"validation", &identity.ValidationError{Field: "password", Rule: "min_length"}, http.StatusBadRequest},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)

			respondWithMappedError(c, tt.err, engineErrorCases)

			require.Equal(t, tt.status, rec.Code)
			assert.NotEmpty(t, decode(t, rec)["message"])
		})
	}
}
