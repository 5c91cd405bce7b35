package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/kcea-attendance/internal/models"
	"github.com/noah-isme/kcea-attendance/internal/service"
	appErrors "github.com/noah-isme/kcea-attendance/pkg/errors"
	"github.com/noah-isme/kcea-attendance/pkg/logger"
)

type tokenStub map[string]*models.JWTClaims

func (s tokenStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := s[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

func init() {
	gin.SetMode(gin.TestMode)
}

func tokens() tokenStub {
	return tokenStub{
		"student": {UserID: "alice", Role: models.RoleStudent, Username: "alice"},
		"teacher": {UserID: "tina", Role: models.RoleTeacher, Username: "tina"},
	}
}

func serve(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTSetsPrincipal(t *testing.T) {
	r := gin.New()
	r.GET("/me", JWT(tokens()), func(c *gin.Context) {
		p, ok := Principal(c)
		assert.True(t, ok)
		assert.Equal(t, "alice", c.GetString(logger.ContextUserIDKey))
		c.String(http.StatusOK, p.UserID)
	})

	w := serve(r, "/me", "student")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, serve(r, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "/me", "forged").Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOptionalJWT(t *testing.T) {
	r := gin.New()
	r.GET("/", OptionalJWT(tokens()), func(c *gin.Context) {
		_, ok := Principal(c)
		c.JSON(http.StatusOK, gin.H{"authenticated": ok})
	})

	assert.JSONEq(t, `{"authenticated":false}`, serve(r, "/", "").Body.String())
	assert.JSONEq(t, `{"authenticated":false}`, serve(r, "/", "forged").Body.String())
	assert.JSONEq(t, `{"authenticated":true}`, serve(r, "/", "teacher").Body.String())
}

func TestRBAC(t *testing.T) {
	r := gin.New()
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }
	r.GET("/staff", JWT(tokens()), RequireStaff(), ok)
	r.GET("/users/:id", JWT(tokens()), RBAC(string(models.RoleAdmin), "SELF"), ok)
	r.GET("/open", RequireStaff(), ok)

	assert.Equal(t, http.StatusForbidden, serve(r, "/staff", "student").Code)
	assert.Equal(t, http.StatusNoContent, serve(r, "/staff", "teacher").Code)
	assert.Equal(t, http.StatusNoContent, serve(r, "/users/alice", "student").Code)
	assert.Equal(t, http.StatusForbidden, serve(r, "/users/bob", "student").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "/open", "").Code)
}

func TestRateLimiterRefills(t *testing.T) {
	limiter := NewRateLimiter(2)
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("1.1.1.1"))
	assert.True(t, limiter.Allow("1.1.1.1"))
	assert.False(t, limiter.Allow("1.1.1.1"))
	assert.True(t, limiter.Allow("2.2.2.2"))

	now = now.Add(30 * time.Second)
	assert.True(t, limiter.Allow("1.1.1.1"))
	assert.False(t, limiter.Allow("1.1.1.1"))
}

func TestRateLimiterMiddleware(t *testing.T) {
	r := gin.New()
	r.POST("/otp", NewRateLimiter(1).Middleware(), func(c *gin.Context) { c.Status(http.StatusAccepted) })

	do := func() int {
		req := httptest.NewRequest(http.MethodPost, "/otp", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusAccepted, do())
	assert.Equal(t, http.StatusTooManyRequests, do())

	disabled := gin.New()
	disabled.GET("/", NewRateLimiter(0).Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(disabled, "/", "").Code)
	}
}

func TestBearerToken(t *testing.T) {
	_, err := bearerToken("Bearer ")
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
	tok, err := bearerToken("bearer abc")
	assert.NoError(t, err)
	assert.Equal(t, "abc", tok)
}

func TestMetricsLabelsRouteTemplates(t *testing.T) {
	metrics := service.NewMetricsService()
	r := gin.New()
	r.Use(Metrics(metrics, "/metrics"))
	r.GET("/courses/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	for _, path := range []string{"/courses/a", "/courses/b", "/nope"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	assert.Contains(t, body, `http_requests_total{method="GET",path="/courses/:id",status="200"} 2`)
	assert.Contains(t, body, `path="unmatched",status="404"`)
	assert.NotContains(t, body, `path="/metrics"`)
	assert.NotContains(t, body, `path="/courses/a"`)
}
