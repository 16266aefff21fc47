package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mpcomm/internal/core/services"
	"mpcomm/internal/infrastructure/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testRouter(t *testing.T) (*gin.Engine, services.AuthService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	auth := services.NewAuthService("secret", time.Hour)
	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(zaptest.NewLogger(t).Sugar()))
	NewAuthHandler(auth, time.Hour).SetupRoutes(router)
	return router, auth
}

func TestIssueToken(t *testing.T) {
	router, auth := testRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/auth/token",
		strings.NewReader(`{"contact_id":"alice","name":"Alice"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"contact_id":"alice"`)
	assert.Contains(t, w.Body.String(), `"token"`)

	// The minted token round-trips through validation.
	var got struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	claims, err := auth.ValidateToken(got.Token)
	require.NoError(t, err)
	assert.EqualValues(t, "alice", claims.ContactID)
}

func TestIssueToken_GeneratesContactID(t *testing.T) {
	router, _ := testRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/auth/token",
		strings.NewReader(`{"name":"Anonymous"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), `"contact_id":""`)
}

func TestIssueToken_RejectsBlankName(t *testing.T) {
	router, _ := testRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/auth/token",
		strings.NewReader(`{"name":"   "}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyToken(t *testing.T) {
	router, auth := testRouter(t)

	token, err := auth.GenerateToken("bob", "Bob")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/auth/verify", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"contact_id":"bob"`)
	assert.Contains(t, w.Body.String(), `"name":"Bob"`)
	assert.Contains(t, w.Body.String(), `"expires_at"`)
}

// The verify route sits behind the auth middleware; a missing header is
// rejected there, before the handler runs.
func TestVerifyToken_RequiresAuthHeader(t *testing.T) {
	router, _ := testRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/auth/verify", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "authorization header required")
}

func TestVerifyToken_RejectsGarbage(t *testing.T) {
	router, _ := testRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/auth/verify", nil)
	req.Header.Set("Authorization", "Bearer nope")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
