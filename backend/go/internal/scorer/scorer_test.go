package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"factforge/backend/go/internal/config"
	"factforge/backend/go/internal/textnorm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClassifier struct {
	score float64
	err   error
}

func (f fakeClassifier) Classify(context.Context, string, string) (float64, error) {
	return f.score, f.err
}

func (f fakeClassifier) ModelVersion() string { return "test-v1" }

func TestHeuristicScamMessage(t *testing.T) {
	s := New(nil)
	text := textnorm.Normalize("URGENT! You are a lottery winner. Send ₹500 to winner99@paytm to claim now")

	h, matched := s.Heuristic(text, "en")
	assert.Greater(t, h, 0.99)
	assert.LessOrEqual(t, h, 1.0)
	for _, rule := range []string{"keyword:lottery", "keyword:claim now", "upi_handle", "rupee_amount", "payment_demand", "urgency:urgent"} {
		assert.Contains(t, matched, rule)
	}
	assert.NotContains(t, matched, "phone_number")
}

func TestHeuristicBenignText(t *testing.T) {
	h, matched := New(nil).Heuristic(textnorm.Normalize("The city council approved the new budget on Monday"), "en")
	assert.Zero(t, h)
	assert.Empty(t, matched)
}

func TestHeuristicSkipsEmailAddresses(t *testing.T) {
	_, matched := New(nil).Heuristic(textnorm.Normalize("Write to press@gov.in for details"), "en")
	assert.NotContains(t, matched, "upi_handle")
}

func TestHeuristicLanguageScopedKeywords(t *testing.T) {
	s := New(nil)
	text := textnorm.Normalize("आप लॉटरी विजेता हैं, कॉल करें 9876543210")

	_, hiMatched := s.Heuristic(text, "hi")
	assert.Contains(t, hiMatched, "keyword:लॉटरी")
	assert.Contains(t, hiMatched, "phone_number")

	_, taMatched := s.Heuristic(text, "ta")
	assert.NotContains(t, taMatched, "keyword:लॉटरी")
}

func TestHeuristicIsDeterministic(t *testing.T) {
	s := New(nil)
	text := textnorm.Normalize("Hurry, limited time offer: pay 1000 at bit.ly/abc")
	first, rules := s.Heuristic(text, "en")
	for i := 0; i < 20; i++ {
		h, r := s.Heuristic(text, "en")
		require.Equal(t, first, h)
		require.Equal(t, rules, r)
	}
}

func TestScoreWithClassifier(t *testing.T) {
	s := New(fakeClassifier{score: 0.9})
	set, degraded := s.Score(context.Background(), textnorm.Normalize("free money for lottery winner"), "en")

	assert.False(t, degraded)
	assert.True(t, set.ClassifierAvailable)
	assert.Equal(t, "test-v1", set.ModelVersion)
	assert.InDelta(t, 0.6*0.9+0.4*set.HeuristicScore, set.Suspicion(), 1e-9)
}

func TestScoreDegradesWhenClassifierFails(t *testing.T) {
	for name, cls := range map[string]Classifier{
		"error":        fakeClassifier{err: errors.New("connection refused")},
		"out of range": fakeClassifier{score: 1.7},
	} {
		t.Run(name, func(t *testing.T) {
			set, degraded := New(cls).Score(context.Background(), textnorm.Normalize("act now"), "en")
			assert.True(t, degraded)
			assert.False(t, set.ClassifierAvailable)
			assert.Equal(t, set.HeuristicScore, set.Suspicion())
		})
	}

	_, degraded := New(nil).Score(context.Background(), textnorm.Normalize("hello"), "en")
	assert.True(t, degraded)
}

func TestHTTPClassifier(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req classifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hi", req.Language)
		_ = json.NewEncoder(w).Encode(classifyResponse{Score: 0.42, ModelVersion: "indic-v2"})
	}))
	defer ts.Close()

	c := NewHTTPClassifier(config.ClassifierConfig{
		Endpoint:       ts.URL,
		Timeout:        "1s",
		ModelVersion:   "indic-v1",
		CircuitBreaker: config.CircuitBreakerConfig{FailureThreshold: 2, Timeout: "1m"},
	})
	require.NotNil(t, c)

	score, err := c.Classify(context.Background(), "text", "hi")
	require.NoError(t, err)
	assert.InDelta(t, 0.42, score, 1e-9)
	assert.Equal(t, "indic-v2", c.ModelVersion())
	assert.True(t, c.Healthy())

	assert.Nil(t, NewHTTPClassifier(config.ClassifierConfig{}))
}
