package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"factforge/backend/go/internal/apperr"
	"factforge/backend/go/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuth(t *testing.T) *Authenticator {
	t.Helper()
	a, err := NewAuthenticator("jwt-test-secret", "factforge", time.Hour)
	require.NoError(t, err)
	return a
}

func TestIssueAndParse(t *testing.T) {
	a := newAuth(t)
	tok, err := a.Issue("alice", models.RoleReviewer)
	require.NoError(t, err)

	id, err := a.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, models.Identity{UserID: "alice", Role: models.RoleReviewer}, id)

	_, err = a.Issue("bob", "superuser")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestParseRejectsBadTokens(t *testing.T) {
	a := newAuth(t)

	expired := *a
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Issue("alice", models.RoleUser)
	require.NoError(t, err)

	other, err := NewAuthenticator("another-secret", "factforge", time.Hour)
	require.NoError(t, err)
	foreign, err := other.Issue("alice", models.RoleAdmin)
	require.NoError(t, err)

	wrongIssuer, err := NewAuthenticator("jwt-test-secret", "someone-else", time.Hour)
	require.NoError(t, err)
	spoofed, err := wrongIssuer.Issue("alice", models.RoleAdmin)
	require.NoError(t, err)

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: models.RoleAdmin}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"expired": old, "foreign": foreign, "issuer": spoofed, "none": noneAlg, "garbage": "abc.def.ghi",
	} {
		_, err := a.Parse(tok)
		assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err), name)
	}
}

func router(a *Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(a.Optional())
	r.GET("/open", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": Identity(c).UserID, "ctx_user": c.GetString(ContextUserID)})
	})
	r.GET("/review", Require(models.RoleReviewer), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func do(r http.Handler, path, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware(t *testing.T) {
	a := newAuth(t)
	r := router(a)
	user, _ := a.Issue("u1", models.RoleUser)
	rev, _ := a.Issue("alice", models.RoleReviewer)

	w := do(r, "/open", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":"","ctx_user":""}`, w.Body.String())

	w = do(r, "/open", "Bearer "+user)
	assert.JSONEq(t, `{"user":"u1","ctx_user":"u1"}`, w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do(r, "/open", "Bearer nope").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/open", "Token "+user).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/review", "").Code)
	assert.Equal(t, http.StatusForbidden, do(r, "/review", "Bearer "+user).Code)
	assert.Equal(t, http.StatusNoContent, do(r, "/review", "Bearer "+rev).Code)
	assert.Equal(t, http.StatusNoContent, do(r, "/review?token="+rev, "").Code)
}
