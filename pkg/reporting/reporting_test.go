package reporting

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/kcea-attendance/pkg/config"
	"github.com/noah-isme/kcea-attendance/pkg/response"
)

func TestDisabledWithoutToken(t *testing.T) {
	r := New(config.RollbarConfig{}, config.EnvDevelopment, nil)
	assert.False(t, r.Enabled())
	assert.NoError(t, r.Close())
	r.Request(httptest.NewRequest(http.MethodGet, "/", nil), errors.New("boom"))
}

func TestRecoveryAndMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)
	rep := New(config.RollbarConfig{}, config.EnvDevelopment, zap.New(core))

	router := gin.New()
	router.Use(rep.Recovery(), rep.Middleware())
	router.GET("/panic", func(c *gin.Context) { panic("kaboom") })
	router.GET("/fail", func(c *gin.Context) { response.Error(c, errors.New("db down")) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fail", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
	assert.Equal(t, 1, logs.FilterMessage("request failed").Len())
}
