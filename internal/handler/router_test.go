package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/GoPolymarket/pointgate/internal/config"
	"github.com/GoPolymarket/pointgate/internal/fraud"
	"github.com/GoPolymarket/pointgate/internal/ledger"
	"github.com/GoPolymarket/pointgate/internal/manager"
	"github.com/GoPolymarket/pointgate/internal/middleware"
	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/GoPolymarket/pointgate/internal/policy"
	"github.com/GoPolymarket/pointgate/internal/service"
	"github.com/GoPolymarket/pointgate/internal/stream"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	apiKey   = "sk-acme-0001"
	adminKey = "admin-secret"
)

type testServer struct {
	router *gin.Engine
	store  *ledger.MemoryStore
	hub    *stream.Hub
	cfg    *config.Config
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Auth:   config.AuthConfig{RequireAPIKey: true, AdminKey: adminKey},
		Ledger: config.LedgerConfig{SweepBatchSize: 100, SweepParallelism: 2},
	}
	if mutate != nil {
		mutate(cfg)
	}

	engine, err := policy.NewEngine()
	require.NoError(t, err)
	tm := service.NewTenantManager(config.TenantDefaultsConfig{QPS: 1000, Burst: 1000}, engine, nil)
	_, err = tm.Apply(&model.Tenant{
		ID:       "acme",
		APIKey:   apiKey,
		Policies: model.PolicySet{Default: &model.PolicyDefinition{Kind: model.PolicyFlexible}},
	})
	require.NoError(t, err)

	store := ledger.NewMemoryStore()
	detector := fraud.NewDetector(fraud.NewMemoryStore())
	svc, err := ledger.NewService(store, tm, engine, detector, manager.NewMemberLocker(time.Second), 1)
	require.NoError(t, err)

	audit := service.NewAuditService(config.AuditConfig{}, nil)
	t.Cleanup(audit.Close)
	hub := stream.NewHub(8)

	router := NewRouter(Deps{
		Config:      cfg,
		Ledger:      svc,
		Fraud:       detector,
		Tenants:     tm,
		TenantSvc:   service.NewTenantService(tm, nil),
		Audit:       audit,
		Hub:         hub,
		Idempotency: middleware.NewInMemIdempotencyStore(time.Hour),
	})
	return &testServer{router: router, store: store, hub: hub, cfg: cfg}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func tenantHeaders(extra ...string) map[string]string {
	h := map[string]string{middleware.HeaderGatewayKey: apiKey}
	for i := 0; i+1 < len(extra); i += 2 {
		h[extra[i]] = extra[i+1]
	}
	return h
}

func awardBody(order string, amount int64) map[string]any {
	return map[string]any{
		"order_id": order,
		"amount":   amount,
		"item":     map[string]any{"item_id": order + "-1", "price": "100"},
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Code
}

func TestAwardRedeemBalance(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/v1/members/m1/awards", awardBody("o1", 100), tenantHeaders())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var award model.AwardResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &award))
	assert.Equal(t, model.StateAvailable, award.Transaction.State)

	rec = s.do(t, http.MethodPost, "/v1/members/m1/redemptions", map[string]any{"amount": 30, "reference": "r1"}, tenantHeaders())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var redeem model.RedeemResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &redeem))
	assert.Equal(t, int64(30), redeem.Redeemed)
	assert.Equal(t, int64(70), redeem.Balance.Available)

	rec = s.do(t, http.MethodPost, "/v1/members/m1/redemptions", map[string]any{"amount": 1000}, tenantHeaders())
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INSUFFICIENT_BALANCE", errorCode(t, rec))

	rec = s.do(t, http.MethodGet, "/v1/members/m1/balance", nil, tenantHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	var bal model.Balance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bal))
	assert.Equal(t, int64(70), bal.Available)
	assert.Equal(t, int64(30), bal.Redeemed)
	assert.True(t, bal.Conserved())

	rec = s.do(t, http.MethodGet, "/v1/transactions/"+strconv.FormatInt(award.Transaction.ID, 10), nil, tenantHeaders())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view model.TransactionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.NotEmpty(t, view.History)

	rec = s.do(t, http.MethodGet, "/v1/members/m1/transactions", nil, tenantHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownMemberAndBadID(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/v1/members/ghost/balance", nil, tenantHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))

	rec = s.do(t, http.MethodGet, "/v1/transactions/abc", nil, tenantHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/members/m1/awards", map[string]any{"order_id": "o1"}, tenantHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/v1/members/m1/balance", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "AUTH_FAILED", errorCode(t, rec))

	rec = s.do(t, http.MethodGet, "/v1/members/m1/balance", nil, map[string]string{middleware.HeaderGatewayKey: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/admin/tenants", nil, map[string]string{middleware.HeaderAdminKey: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIdempotentReplay(t *testing.T) {
	s := newTestServer(t, nil)
	headers := tenantHeaders(middleware.HeaderIdempotencyKey, "award-o1")

	first := s.do(t, http.MethodPost, "/v1/members/m1/awards", awardBody("o1", 50), headers)
	require.Equal(t, http.StatusCreated, first.Code)

	second := s.do(t, http.MethodPost, "/v1/members/m1/awards", awardBody("o1", 50), headers)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replay"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	txs, err := s.store.ListMemberTransactions(context.Background(), "acme", "m1")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestReadOnlyBlocksWrites(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.ReadOnly = true })

	rec := s.do(t, http.MethodPost, "/v1/members/m1/awards", awardBody("o1", 10), tenantHeaders())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "READ_ONLY", errorCode(t, rec))

	rec = s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminTenantLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	admin := map[string]string{middleware.HeaderAdminKey: adminKey}

	rec := s.do(t, http.MethodPost, "/admin/tenants", map[string]any{
		"id":       "globex",
		"api_key":  "sk-globex-0001",
		"webhook":  map[string]any{"url": "https://hooks.globex.test/points", "secret": "whsec-globex"},
		"policies": map[string]any{"default": map[string]any{"kind": "time_window", "window": "48h"}},
	}, admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var pub TenantPublic
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pub))
	assert.Equal(t, "sk-g...0001", pub.APIKey)
	assert.Equal(t, "whse...obex", pub.Webhook.Secret)

	rec = s.do(t, http.MethodPost, "/v1/members/m9/awards", awardBody("o9", 10), map[string]string{middleware.HeaderGatewayKey: "sk-globex-0001"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPatch, "/admin/tenants/globex", map[string]any{
		"policies": map[string]any{"default": map[string]any{"kind": "time_window"}},
	}, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPatch, "/admin/tenants/globex", map[string]any{"name": "Globex"}, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pub))
	assert.Equal(t, int64(2), pub.Version)

	rec = s.do(t, http.MethodGet, "/admin/tenants/globex/members/m9/fraud", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodDelete, "/admin/tenants/globex/members/m9/fraud", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/admin/tenants/nobody/members/m9/fraud", nil, admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/admin/sweep", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodDelete, "/admin/tenants/globex", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/v1/members/m9/balance", nil, map[string]string{middleware.HeaderGatewayKey: "sk-globex-0001"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuditListScopedToTenant(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/v1/members/m1/awards", awardBody("o1", 10), tenantHeaders())

	rec := s.do(t, http.MethodGet, "/v1/audit?limit=10", nil, tenantHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []model.AuditLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.NotEmpty(t, entries)
	assert.Equal(t, "acme", entries[0].TenantID)
	assert.Equal(t, "/v1/members/m1/awards", entries[0].Path)
	assert.NotNil(t, entries[0].Context["transaction_id"])

	rec = s.do(t, http.MethodGet, "/v1/audit?from=yesterday", nil, tenantHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamDeliversTenantEvents(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream?member_id=m1"
	header := http.Header{}
	header.Set(middleware.HeaderGatewayKey, apiKey)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.hub.Subscribers("acme") == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, s.hub.Deliver(context.Background(), nil, model.EventBody{
		Event: model.EventPointsAvailable, TenantID: "acme", MemberID: "m1", Amount: 10,
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev model.EventBody
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, model.EventPointsAvailable, ev.Event)
	assert.Equal(t, int64(10), ev.Amount)
}
