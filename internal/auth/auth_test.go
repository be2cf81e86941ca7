package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenRoundTrip(t *testing.T) {
	m, err := NewJWTManager(testSecret, time.Hour)
	require.NoError(t, err)

	resp, err := m.IssueToken(OperatorClaims{Subject: "desk", Role: RoleOperator})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(3600), resp.ExpiresIn)

	claims, err := m.ValidateAccessToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "desk", claims.Subject)
	assert.Equal(t, RoleOperator, claims.Role)
}

func TestShortSecretRejected(t *testing.T) {
	_, err := NewJWTManager("short", time.Hour)
	assert.Error(t, err)
}

func TestUnknownRoleNotIssued(t *testing.T) {
	m, err := NewJWTManager(testSecret, time.Hour)
	require.NoError(t, err)
	_, err = m.GenerateAccessToken(OperatorClaims{Subject: "x", Role: "root"})
	assert.Equal(t, ErrInvalidRole, err)
}

func TestExpiredToken(t *testing.T) {
	m, err := NewJWTManager(testSecret, time.Minute)
	require.NoError(t, err)
	issued := time.Now().Add(-time.Hour)
	m.now = func() time.Time { return issued }
	token, err := m.GenerateAccessToken(OperatorClaims{Subject: "desk", Role: RoleViewer})
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.ValidateAccessToken(token)
	assert.Equal(t, ErrTokenExpired, err)
}

func TestForeignSecretRejected(t *testing.T) {
	a, _ := NewJWTManager(testSecret, time.Hour)
	b, _ := NewJWTManager("another-secret-of-enough-length", time.Hour)
	token, err := a.GenerateAccessToken(OperatorClaims{Subject: "desk", Role: RoleViewer})
	require.NoError(t, err)
	_, err = b.ValidateAccessToken(token)
	assert.Equal(t, ErrInvalidToken, err)
}

func TestMiddlewareAndRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, err := NewJWTManager(testSecret, time.Hour)
	require.NoError(t, err)

	r := gin.New()
	r.Use(Middleware(m))
	r.GET("/read", func(c *gin.Context) { c.String(http.StatusOK, Subject(c)) })
	r.POST("/write", RequireRole(RoleOperator), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	viewer, _ := m.GenerateAccessToken(OperatorClaims{Subject: "watcher", Role: RoleViewer})
	operator, _ := m.GenerateAccessToken(OperatorClaims{Subject: "desk", Role: RoleOperator})

	tests := []struct {
		name   string
		method string
		path   string
		header string
		want   int
	}{
		{"missing header", http.MethodGet, "/read", "", http.StatusUnauthorized},
		{"wrong scheme", http.MethodGet, "/read", "Basic abc", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/read", "Bearer abc", http.StatusUnauthorized},
		{"viewer reads", http.MethodGet, "/read", "Bearer " + viewer, http.StatusOK},
		{"viewer cannot write", http.MethodPost, "/write", "Bearer " + viewer, http.StatusForbidden},
		{"operator writes", http.MethodPost, "/write", "Bearer " + operator, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/read", nil)
	req.Header.Set("Authorization", "Bearer "+viewer)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "watcher", w.Body.String())
}
