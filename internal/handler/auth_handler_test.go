package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"farmer-auth/internal/bucketing"
	"farmer-auth/internal/config"
	"farmer-auth/internal/hashing"
	"farmer-auth/internal/repository/memory"
	"farmer-auth/internal/service"
	"farmer-auth/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testPhone = "9876543210"

type captureNotifier struct {
	mu    sync.Mutex
	codes map[string]string
}

func (n *captureNotifier) Deliver(_ context.Context, phone, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes[phone] = code
	return nil
}

func (n *captureNotifier) code(phone string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codes[phone]
}

func newTestServer(t *testing.T) (http.Handler, *captureNotifier) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Hashing.Argon2MemoryCost = 64
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1
	cfg.Bucketing.FarmerBuckets = 4
	cfg.Auth.LockStripes = 4

	hasher, err := hashing.NewHasher(cfg, zap.NewNop())
	require.NoError(t, err)

	notifier := &captureNotifier{codes: make(map[string]string)}
	core := service.NewAuthCore(memory.NewFarmerRegistry(), notifier, hasher,
		bucketing.NewBucketingManager(cfg), nil, util.SystemClock{}, service.DefaultPolicy(), zap.NewNop())

	router := NewRouter(NewAuthHandler(core, zap.NewNop()), RouterOptions{}, zap.NewNop())
	return router, notifier
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp Response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func register(t *testing.T, h http.Handler) {
	t.Helper()
	rec, resp := do(t, h, http.MethodPost, "/api/auth/register",
		`{"name":"Ramesh Kumar","phone":"`+testPhone+`","state":"Maharashtra","district":"Pune"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.True(t, resp.Success)
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t)
	rec, resp := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
}

func TestRegisterEndpoint(t *testing.T) {
	h, _ := newTestServer(t)
	register(t, h)

	rec, resp := do(t, h, http.MethodPost, "/api/auth/register", `{"name":"Again","phone":"`+testPhone+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, resp.Success)

	rec, _ = do(t, h, http.MethodPost, "/api/auth/register", `{"name":"X","phone":"12"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/auth/register", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/auth/register", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginFlow(t *testing.T) {
	h, notifier := newTestServer(t)

	rec, _ := do(t, h, http.MethodPost, "/api/auth/login-otp", `{"phone":"`+testPhone+`"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	register(t, h)

	rec, resp := do(t, h, http.MethodPost, "/api/auth/login-otp", `{"phone":"`+testPhone+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(300), data["expires_in_seconds"])
	assert.Equal(t, "OTP sent to ******3210", resp.Message)

	rec, resp = do(t, h, http.MethodPost, "/api/auth/login-otp", `{"phone":"`+testPhone+`"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.False(t, resp.Success)

	code := notifier.code(testPhone)
	bad := "000000"
	if code == bad {
		bad = "111111"
	}
	rec, resp = do(t, h, http.MethodPost, "/api/auth/verify-otp", `{"phone":"`+testPhone+`","otp":"`+bad+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid OTP. 2 attempts remaining.", resp.Message)
	assert.Equal(t, float64(2), resp.Data.(map[string]interface{})["remaining_attempts"])

	rec, resp = do(t, h, http.MethodPost, "/api/auth/verify-otp", `{"phone":"`+testPhone+`","otp":"`+code+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, resp.Success)
	farmer := resp.Data.(map[string]interface{})["farmer"].(map[string]interface{})
	assert.Equal(t, true, farmer["verified"])

	rec, resp = do(t, h, http.MethodPost, "/api/auth/verify-otp", `{"phone":"`+testPhone+`","otp":"`+code+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "OTP not requested. Please request OTP first.", resp.Message)
}

func TestVerifyInvalidPhone(t *testing.T) {
	h, _ := newTestServer(t)
	rec, resp := do(t, h, http.MethodPost, "/api/auth/verify-otp", `{"phone":"abc","otp":"123456"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_phone", resp.Error)
}

func TestFarmerLookupEndpoints(t *testing.T) {
	h, _ := newTestServer(t)

	rec, resp := do(t, h, http.MethodGet, "/api/auth/farmers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, resp.Data)

	register(t, h)

	rec, resp = do(t, h, http.MethodGet, "/api/auth/farmers/"+testPhone, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ramesh Kumar", resp.Data.(map[string]interface{})["name"])

	rec, _ = do(t, h, http.MethodGet, "/api/auth/farmers/9000000000", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/auth/farmers/bad", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp = do(t, h, http.MethodGet, "/api/auth/farmers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data, 1)

	rec, resp = do(t, h, http.MethodGet, "/api/auth/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(4), resp.Data.(map[string]interface{})["lock_stripes"])
}

func TestUnknownRouteAndMethod(t *testing.T) {
	h, _ := newTestServer(t)

	rec, _ := do(t, h, http.MethodGet, "/api/auth/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/auth/login-otp", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRequireHTTPS(t *testing.T) {
	h := NewRouter(nil, RouterOptions{RequireHTTPS: true}, zap.NewNop())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusUpgradeRequired, rec.Code)
}
