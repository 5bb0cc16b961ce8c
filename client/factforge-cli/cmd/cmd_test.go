package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendsTokenAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "/review/queue", r.URL.Path)
		assert.Equal(t, "pending", r.URL.Query().Get("status"))
		_, _ = w.Write([]byte(`{"items":[],"total_pending":3}`))
	}))
	defer srv.Close()

	var page struct {
		TotalPending int `json:"total_pending"`
	}
	c := NewClient(srv.URL+"/", "tok")
	require.NoError(t, c.Do(context.Background(), http.MethodGet, "/review/queue", url.Values{"status": {"pending"}}, nil, &page))
	assert.Equal(t, 3, page.TotalPending)
}

func TestClientReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"InvalidTransition","message":"pending 状态不能执行 approve"}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "").Do(context.Background(), http.MethodPost, "/review/x/action", nil, map[string]string{"action": "approve"}, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "InvalidTransition", apiErr.Kind)
}

func TestWSURL(t *testing.T) {
	u, err := NewClient("https://ff.example", "abc").wsURL("/ws")
	require.NoError(t, err)
	assert.Equal(t, "wss://ff.example/ws?token=abc", u)

	u, err = NewClient("http://localhost:8080", "").wsURL("/ws")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws", u)
}

func TestIssueToken(t *testing.T) {
	now := time.Now()
	tok, err := issueToken("dev-secret", "factforge", "alice", "reviewer", time.Hour, now)
	require.NoError(t, err)

	var claims tokenClaims
	_, err = jwt.ParseWithClaims(tok, &claims, func(*jwt.Token) (interface{}, error) { return []byte("dev-secret"), nil })
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "reviewer", claims.Role)
	assert.Equal(t, now.Add(time.Hour).Unix(), claims.ExpiresAt)

	_, err = issueToken("", "factforge", "alice", "user", time.Hour, now)
	assert.Error(t, err)
	_, err = issueToken("s", "factforge", "alice", "root", time.Hour, now)
	assert.Error(t, err)
}

func TestPrintCheck(t *testing.T) {
	var res checkResult
	require.NoError(t, json.Unmarshal([]byte(`{
		"request_id":"r1","verdict":"FALSE","trust_score":12,"confidence":88,
		"reasons":["asks for money"],"route":"review","review_id":"rv1",
		"language_detected":"hi","degraded":true,"degraded_reasons":["classifier_unavailable"],
		"evidence_list":[{"url":"https://factcheck.example/1","similarity":0.91}]
	}`), &res))

	var buf bytes.Buffer
	printCheck(&buf, res)
	out := buf.String()
	assert.Contains(t, out, "FALSE (trust 12, confidence 88)")
	assert.Contains(t, out, "Review ID:  rv1")
	assert.Contains(t, out, "0.91 https://factcheck.example/1")
	assert.Contains(t, out, "classifier_unavailable")
}
