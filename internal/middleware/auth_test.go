package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noteforge/noteforge/internal/authclient"
	"github.com/noteforge/noteforge/internal/models"
	"github.com/noteforge/noteforge/internal/token"
	"github.com/noteforge/noteforge/pkg/config"
	"github.com/noteforge/noteforge/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func middlewareAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		AccessSecret:    "access_secret",
		RefreshSecret:   "refresh_secret",
		Issuer:          "noteforge-auth",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
		ClockSkewLeeway: time.Second,
	}
}

func protectedRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	chain := append(handlers, func(c *gin.Context) {
		principal, _ := PrincipalFrom(c)
		response.JSON(c, http.StatusOK, principal)
	})
	router.GET("/protected/:id", chain...)
	return router
}

func signAccessToken(t *testing.T, user *models.User) string {
	t.Helper()
	signed, _, err := token.NewCodec(middlewareAuthConfig()).Issue(user, token.TypeAccess)
	require.NoError(t, err)
	return signed
}

func TestAuthAllowsValidToken(t *testing.T) {
	validator := authclient.NewLocalValidator(middlewareAuthConfig())
	router := protectedRouter(Auth(validator))

	signed := signAccessToken(t, &models.User{ID: "u1", Email: "user@example.com", Role: models.RoleUser})
	req := httptest.NewRequest(http.MethodGet, "/protected/u1", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	data := envelope.Data.(map[string]interface{})
	assert.Equal(t, "u1", data["user_id"])
}

func TestAuthRejectsMissingHeader(t *testing.T) {
	validator := authclient.NewLocalValidator(middlewareAuthConfig())
	router := protectedRouter(Auth(validator))

	req := httptest.NewRequest(http.MethodGet, "/protected/u1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsMalformedHeader(t *testing.T) {
	validator := authclient.NewLocalValidator(middlewareAuthConfig())
	router := protectedRouter(Auth(validator))

	req := httptest.NewRequest(http.MethodGet, "/protected/u1", nil)
	req.Header.Set("Authorization", "Token abc")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	cfg := middlewareAuthConfig()
	cfg.AccessTokenTTL = time.Nanosecond
	cfg.ClockSkewLeeway = time.Nanosecond
	signed, _, err := token.NewCodec(cfg).Issue(&models.User{ID: "u1", Role: models.RoleUser}, token.TypeAccess)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	router := protectedRouter(Auth(authclient.NewLocalValidator(cfg)))
	req := httptest.NewRequest(http.MethodGet, "/protected/u1", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "TOKEN_EXPIRED", envelope.Error.Code)
}

func TestRBACAllowsRole(t *testing.T) {
	validator := authclient.NewLocalValidator(middlewareAuthConfig())
	router := protectedRouter(Auth(validator), RequireRoles(models.RoleAdmin))

	signed := signAccessToken(t, &models.User{ID: "admin-1", Role: models.RoleAdmin})
	req := httptest.NewRequest(http.MethodGet, "/protected/u1", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRBACForbidsRole(t *testing.T) {
	validator := authclient.NewLocalValidator(middlewareAuthConfig())
	router := protectedRouter(Auth(validator), RequireRoles(models.RoleAdmin))

	signed := signAccessToken(t, &models.User{ID: "u1", Role: models.RoleUser})
	req := httptest.NewRequest(http.MethodGet, "/protected/u1", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRBACAllowsSelf(t *testing.T) {
	validator := authclient.NewLocalValidator(middlewareAuthConfig())
	router := protectedRouter(Auth(validator), RBAC("ADMIN", "SELF"))

	signed := signAccessToken(t, &models.User{ID: "u1", Role: models.RoleUser})
	req := httptest.NewRequest(http.MethodGet, "/protected/u1", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
