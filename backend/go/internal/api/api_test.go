package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"factforge/backend/go/internal/apperr"
	"factforge/backend/go/internal/audit"
	"factforge/backend/go/internal/auth"
	"factforge/backend/go/internal/config"
	"factforge/backend/go/internal/events"
	"factforge/backend/go/internal/fusion"
	"factforge/backend/go/internal/llm"
	"factforge/backend/go/internal/models"
	"factforge/backend/go/internal/pipeline"
	"factforge/backend/go/internal/review"
	"factforge/backend/go/internal/runtimeconfig"
	"factforge/backend/go/pkg/ratelimiter"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	resp *models.CheckResponse
	err  error
	got  models.Identity
}

func (s *stubChecker) Check(_ context.Context, _ models.CheckRequest, id models.Identity) (*models.CheckResponse, error) {
	s.got = id
	return s.resp, s.err
}

func (s *stubChecker) Stats() pipeline.Stats {
	return pipeline.Stats{
		Total:     3,
		ByVerdict: map[models.Verdict]int64{models.VerdictFalse: 3},
		ByRoute:   map[models.Route]int64{models.RouteAutoPublish: 2, models.RouteReview: 1},
	}
}

type stubPresigner struct{}

func (stubPresigner) Presign(_ context.Context, object string) (string, error) {
	return "https://minio.local/shots/" + object + "?sig=1", nil
}

type env struct {
	router     *gin.Engine
	auth       *auth.Authenticator
	checker    *stubChecker
	queue      *review.Service
	log        *audit.Log
	auditStore *audit.MemoryStore
	rec        *events.Recorder
	registry   *runtimeconfig.ProviderRegistry
	thresholds *runtimeconfig.ThresholdStore
	hub        *events.Hub
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	a, err := auth.NewAuthenticator("api-test-secret", "factforge", time.Hour)
	require.NoError(t, err)
	signer, err := audit.NewSigner("api-test-audit-secret")
	require.NoError(t, err)
	as := audit.NewMemoryStore()
	l := audit.NewLog(signer, as)
	rec := &events.Recorder{}
	queue := review.NewService(review.NewMemoryStore(), l, rec, nil)

	ok := func(context.Context, string) (string, error) { return `{"verdict":"TRUE","confidence":90,"reasons":["ok"]}`, nil }
	down := func(context.Context, string) (string, error) { return "", errors.New("connection refused") }
	reg, err := runtimeconfig.NewProviderRegistry([]llm.Provider{
		llm.Func{ProviderName: "gemini", Fn: ok},
		llm.Func{ProviderName: "local", Fn: ok},
		llm.Func{ProviderName: "broken", Fn: down},
	}, "gemini", config.CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, Timeout: "30s"}, nil, nil)
	require.NoError(t, err)

	th, err := runtimeconfig.NewThresholdStore(config.DefaultThresholds())
	require.NoError(t, err)
	limiter, err := ratelimiter.NewKeyedLimiter(0.001, 2, 100)
	require.NoError(t, err)
	hub := events.NewHub(nil)
	t.Cleanup(hub.Close)

	checker := &stubChecker{resp: &models.CheckResponse{
		RequestID:   "req-1",
		Verdict:     models.VerdictFalse,
		TrustScore:  12,
		Confidence:  88,
		Reasons:     []string{"scam"},
		EvidenceIDs: []string{"e1"},
		Language:    "en",
		Route:       models.RouteAutoPublish,
		Evidence: []models.ScoredEvidence{{
			Evidence:   models.Evidence{ID: "e1", URL: "https://factcheck.example/1", Summary: "debunked", ScreenshotRef: "e1.png"},
			Similarity: 0.91,
		}},
	}}

	api := New(Deps{
		Auth:        a,
		Checker:     checker,
		Review:      queue,
		Providers:   reg,
		Thresholds:  th,
		Audit:       l,
		Events:      rec,
		Hub:         hub,
		Screenshots: stubPresigner{},
		Limiter:     limiter,
		Health: map[string]HealthCheck{
			"mongo": func(context.Context) error { return nil },
		},
	})
	return &env{router: api.Router(), auth: a, checker: checker, queue: queue, log: l, auditStore: as, rec: rec, registry: reg, thresholds: th, hub: hub}
}

func (e *env) token(t *testing.T, user string, role models.Role) string {
	t.Helper()
	tok, err := e.auth.Issue(user, role)
	require.NoError(t, err)
	return tok
}

func (e *env) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

func TestStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(apperr.KindValidation))
	assert.Equal(t, http.StatusConflict, StatusFor(apperr.KindInvalidTransition))
	assert.Equal(t, http.StatusConflict, StatusFor(apperr.KindConflict))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(apperr.KindDependencyUnavailable))
	assert.Equal(t, http.StatusGatewayTimeout, StatusFor(apperr.KindTimeout))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(apperr.KindInternal))
}

func TestCheckRendersLegacyFields(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodPost, "/check", "", map[string]string{"claim_text": "Send ₹1000 to UPI"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	m := decode(t, w)

	assert.Equal(t, "req-1", m["request_id"])
	assert.Equal(t, "FALSE", m["verdict"])
	assert.Equal(t, "en", m["language_detected"])
	assert.Equal(t, []interface{}{"e1"}, m["retrieved_ids"])
	assert.Equal(t, []interface{}{"e1"}, m["evidence_ids"])
	list := m["evidence_list"].([]interface{})
	require.Len(t, list, 1)
	first := list[0].(map[string]interface{})
	assert.Equal(t, "https://factcheck.example/1", first["url"])
	assert.Contains(t, first["screenshot_url"], "e1.png")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.True(t, e.checker.got.Anonymous())

	e.do(http.MethodPost, "/check", e.token(t, "u1", models.RoleUser), map[string]string{"claim_text": "x"})
	assert.Equal(t, "u1", e.checker.got.UserID)
}

func TestCheckErrors(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodPost, "/check", e.token(t, "a", models.RoleUser), "not an object")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	e.checker.resp, e.checker.err = nil, apperr.Validation("pipeline", "claim_text 不能为空")
	w = e.do(http.MethodPost, "/check", e.token(t, "b", models.RoleUser), map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ValidationError", decode(t, w)["error"])

	e.checker.err = errors.New("boom")
	w = e.do(http.MethodPost, "/check", e.token(t, "c", models.RoleUser), map[string]string{})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", decode(t, w)["message"])
}

func TestCheckRateLimited(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, "spammer", models.RoleUser)
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, e.do(http.MethodPost, "/check", tok, map[string]string{"claim_text": "x"}).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, e.do(http.MethodPost, "/check", tok, map[string]string{"claim_text": "x"}).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodPost, "/check", e.token(t, "other", models.RoleUser), map[string]string{"claim_text": "x"}).Code)
}

func TestReviewFlowOverHTTP(t *testing.T) {
	e := newEnv(t)
	it, err := e.queue.Enqueue(context.Background(), review.NewItem{RequestID: "r1", ClaimText: "c", Language: "en", Verdict: models.VerdictTrue})
	require.NoError(t, err)
	user := e.token(t, "u1", models.RoleUser)
	alice := e.token(t, "alice", models.RoleReviewer)
	admin := e.token(t, "root", models.RoleAdmin)

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/review/queue", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/review/queue", user, nil).Code)

	w := e.do(http.MethodGet, "/review/queue?status=pending&limit=10", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode(t, w)
	assert.Len(t, page["items"], 1)
	assert.EqualValues(t, 1, page["total_pending"])

	w = e.do(http.MethodPost, "/review/"+it.ID+"/action", alice, map[string]string{"action": "approve"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "InvalidTransition", decode(t, w)["error"])

	assert.Equal(t, http.StatusOK, e.do(http.MethodPost, "/review/"+it.ID+"/assign", alice, nil).Code)
	w = e.do(http.MethodPost, "/review/"+it.ID+"/action", alice, map[string]string{"action": "approve", "note": "verified"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["success"])

	w = e.do(http.MethodGet, "/review/"+it.ID, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "approved", decode(t, w)["status"])

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/review/missing", alice, nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/review/"+it.ID+"/action", alice, map[string]string{"action": "delete"}).Code)

	w = e.do(http.MethodGet, "/review/stats", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	counts := decode(t, w)["counts"].(map[string]interface{})
	assert.EqualValues(t, 1, counts["approved"])

	other, err := e.queue.Enqueue(context.Background(), review.NewItem{RequestID: "r2"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, e.do(http.MethodPost, "/review/"+other.ID+"/escalate", alice, map[string]string{"note": "legal"}).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPost, "/review/"+other.ID+"/reopen", alice, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodPost, "/review/"+other.ID+"/reopen", admin, map[string]string{"reviewer": "alice"}).Code)
}

func TestAdminProviderSwitch(t *testing.T) {
	e := newEnv(t)
	admin := e.token(t, "root", models.RoleAdmin)

	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/admin/llm/status", e.token(t, "alice", models.RoleReviewer), nil).Code)

	w := e.do(http.MethodGet, "/admin/llm/status", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gemini", decode(t, w)["active"])

	w = e.do(http.MethodPost, "/admin/llm/switch", admin, map[string]string{"provider": "local"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "local", e.registry.Active())
	assert.Contains(t, e.rec.Types(), models.EventProviderSwitched)
	entries, err := e.log.List(context.Background(), models.AuditProviderSwitched, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/admin/llm/switch", admin, map[string]string{"provider": "nope"}).Code)
	assert.Equal(t, http.StatusServiceUnavailable, e.do(http.MethodPost, "/admin/llm/switch", admin, map[string]string{"provider": "broken"}).Code)
	assert.Equal(t, "local", e.registry.Active())
}

func TestAdminThresholds(t *testing.T) {
	e := newEnv(t)
	admin := e.token(t, "root", models.RoleAdmin)

	w := e.do(http.MethodPost, "/admin/models/update", admin, map[string]interface{}{
		"thresholds": map[string]interface{}{
			"hi": map[string]interface{}{"auto_publish_min_confidence": 95, "review_min_score": 60, "review_max_score": 94, "auto_reject_min_suspicion": 0.85},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(http.MethodGet, "/admin/thresholds", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	values := decode(t, w)["values"].(map[string]interface{})
	assert.EqualValues(t, 60, values["hi"].(map[string]interface{})["review_min_score"])
	assert.Contains(t, e.rec.Types(), models.EventThresholdsUpdated)

	w = e.do(http.MethodPost, "/admin/models/update", admin, map[string]interface{}{
		"thresholds": map[string]interface{}{"xx": map[string]interface{}{"review_min_score": 1}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodPost, "/admin/models/update", admin, map[string]interface{}{
		"thresholds": map[string]interface{}{"en": map[string]interface{}{"auto_reject_min_suspicion": 0}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminPartialThresholdUpdate(t *testing.T) {
	e := newEnv(t)
	admin := e.token(t, "root", models.RoleAdmin)
	before := e.thresholds.Load().For("en")

	w := e.do(http.MethodPost, "/admin/models/update", admin, map[string]interface{}{
		"thresholds": map[string]interface{}{
			"en": map[string]interface{}{"auto_publish_min_confidence": 92, "review_min_score": 50, "review_max_score": 91},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(http.MethodGet, "/admin/models", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "gemini", body["active_llm"])
	en := body["thresholds"].(map[string]interface{})["values"].(map[string]interface{})["en"].(map[string]interface{})
	assert.InDelta(t, before.AutoRejectMinSuspicion, en["auto_reject_min_suspicion"].(float64), 1e-9)

	after := e.thresholds.Load().For("en")
	assert.Equal(t, before, after)
	d := fusion.Fuse(fusion.Input{
		Scores: models.ScoreSet{HeuristicScore: 0.05, ClassifierScore: 0.05, ClassifierAvailable: true},
		Evidence: models.RetrievalResult{Items: []models.ScoredEvidence{
			{Evidence: models.Evidence{ID: "e1", Label: models.VerdictTrue}, Similarity: 0.8},
		}},
		Verdict:   models.LLMVerdict{Verdict: models.VerdictTrue, Confidence: 88},
		Threshold: after,
	})
	assert.Equal(t, models.VerdictTrue, d.Verdict)
	assert.False(t, d.ScamOverride)
}

func TestAdminStats(t *testing.T) {
	e := newEnv(t)
	admin := e.token(t, "root", models.RoleAdmin)
	_, err := e.queue.Enqueue(context.Background(), review.NewItem{RequestID: "r1", ClaimText: "c", Language: "en", Verdict: models.VerdictTrue})
	require.NoError(t, err)

	w := e.do(http.MethodGet, "/admin/stats", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	checks := body["checks"].(map[string]interface{})
	assert.EqualValues(t, 3, checks["total"])
	assert.EqualValues(t, 1, checks["by_route"].(map[string]interface{})["review"])
	assert.EqualValues(t, 1, body["pending_reviews"])
	assert.Equal(t, "gemini", body["active_models"].(map[string]interface{})["llm"])

	reviewer := e.token(t, "rev", models.RoleReviewer)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/admin/stats", reviewer, nil).Code)
}

func TestAuditVerifyAndList(t *testing.T) {
	e := newEnv(t)
	admin := e.token(t, "root", models.RoleAdmin)
	entry, err := e.log.Append(context.Background(), models.AuditCheck, map[string]int{"trust_score": 10})
	require.NoError(t, err)

	w := e.do(http.MethodGet, "/admin/audit/verify?id="+entry.ID, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["valid"])

	e.auditStore.Tamper(entry.ID, []byte(`{"trust_score":99}`))
	w = e.do(http.MethodGet, "/admin/audit/verify?id="+entry.ID, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["valid"])

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/admin/audit/verify?id=missing", admin, nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/admin/audit/verify", admin, nil).Code)

	w = e.do(http.MethodGet, "/admin/audit?event_type=check&limit=5", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/admin/audit?offset=-1", admin, nil).Code)
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/healthz", "", nil).Code)
	w := e.do(http.MethodGet, "/admin/health", e.token(t, "root", models.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestWebSocketTokenFromQuery(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + e.token(t, "alice", models.RoleReviewer)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return e.hub.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, e.hub.Publish(context.Background(), events.New(models.EventReviewQueued, map[string]interface{}{"review_id": "x"})))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev models.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, models.EventReviewQueued, ev.Type)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?token=bad", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
