package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-frontdesk/internal/conversation"
	httpmiddleware "github.com/wolfman30/dental-frontdesk/internal/http/middleware"
	"github.com/wolfman30/dental-frontdesk/internal/observability/metrics"
	"github.com/wolfman30/dental-frontdesk/internal/policy"
	"github.com/wolfman30/dental-frontdesk/internal/tasks"
	"github.com/wolfman30/dental-frontdesk/internal/webchat"
	"github.com/wolfman30/dental-frontdesk/pkg/logging"
)

const testSecret = "router-test-secret"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := logging.Discard()
	reg := prometheus.NewRegistry()
	taskStore := tasks.NewMemoryStore()

	engine, err := conversation.NewEngine(conversation.EngineConfig{
		Policy:    policy.DefaultPolicy(),
		Store:     conversation.NewMemoryStore(),
		TaskStore: taskStore,
		Metrics:   metrics.NewPolicyMetrics(reg),
		Logger:    logger,
	})
	require.NoError(t, err)

	chat := webchat.NewHandler(engine, logger)
	convHandler := conversation.NewHandler(engine, logger)
	convHandler.SetNotifier(chat)

	return New(&Config{
		Logger:              logger,
		WebchatHandler:      chat,
		ConversationHandler: convHandler,
		TasksHandler:        tasks.NewHandler(taskStore, logger),
		MetricsHandler:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		RateLimiter:         httpmiddleware.NewRateLimiter(100, 100),
		StaffJWTSecret:      testSecret,
		CORSAllowedOrigins:  []string{"https://smiles.example"},
	})
}

func bearer(t *testing.T, role string) string {
	t.Helper()
	claims := httpmiddleware.StaffClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "desk",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func do(router http.Handler, method, path, body, auth string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthEndpoint(t *testing.T) {
	rec := do(newTestRouter(t), http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRouterEscalationShowsUpInStaffInbox(t *testing.T) {
	router := newTestRouter(t)

	rec := do(router, http.MethodPost, "/webchat/message", `{"session_id":"s1","message":"what antibiotic should I take?"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var reply map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, "T-0001", reply["ticket"])

	rec = do(router, http.MethodGet, "/staff/tasks", "", bearer(t, "staff"))
	require.Equal(t, http.StatusOK, rec.Code)
	var list tasks.ListTasksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "s1", list.Tasks[0].ConversationID)
	assert.Equal(t, policy.ReasonMedicalAdviceBlock, list.Tasks[0].Reason)

	rec = do(router, http.MethodGet, "/staff/tasks/T-0001", "", bearer(t, "admin"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterStaffRoutesNeedToken(t *testing.T) {
	router := newTestRouter(t)

	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodGet, "/staff/tasks", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodGet, "/admin/conversations/s1", "", "").Code)
	assert.Equal(t, http.StatusForbidden, do(router, http.MethodGet, "/admin/conversations/s1", "", bearer(t, "staff")).Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/admin/conversations/s1", "", bearer(t, "admin")).Code)
}

func TestRouterConversationLifecycle(t *testing.T) {
	router := newTestRouter(t)

	rec := do(router, http.MethodPost, "/webchat/message", `{"conversation_id":"s2","message":"I want to book a cleaning"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, http.MethodGet, "/admin/conversations/s2", "", bearer(t, "admin"))
	require.Equal(t, http.StatusOK, rec.Code)
	var view conversation.ConversationView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, policy.StateCollecting, view.State)

	rec = do(router, http.MethodPost, "/conversations/s2/end", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, http.MethodPost, "/webchat/message", `{"conversation_id":"s2","message":"hello?"}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)
	do(router, http.MethodPost, "/webchat/message", `{"conversation_id":"s3","message":"What are your hours?"}`, "")

	rec := do(router, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "frontdesk_policy_turns_total")
}

func TestRouterCORSPreflight(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/webchat/message", nil)
	req.Header.Set("Origin", "https://smiles.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://smiles.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
