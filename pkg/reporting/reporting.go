// Package reporting forwards server-side failures to Rollbar.
package reporting

import (
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/rollbar/rollbar-go"
	"go.uber.org/zap"

	"github.com/noah-isme/kcea-attendance/pkg/config"
	appErrors "github.com/noah-isme/kcea-attendance/pkg/errors"
	"github.com/noah-isme/kcea-attendance/pkg/response"
)

// Reporter is a no-op when no token is configured.
type Reporter struct {
	client *rollbar.Client
	logger *zap.Logger
}

// New builds a reporter for env.
func New(cfg config.RollbarConfig, env string, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reporter{logger: logger}
	if cfg.Token == "" {
		return r
	}
	host, _ := os.Hostname()
	r.client = rollbar.NewAsync(cfg.Token, env, "", host, "github.com/noah-isme/kcea-attendance")
	return r
}

// Enabled reports whether events leave the process.
func (r *Reporter) Enabled() bool {
	return r != nil && r.client != nil
}

// Request reports err in the context of req.
func (r *Reporter) Request(req *http.Request, err error) {
	if !r.Enabled() || err == nil {
		return
	}
	r.client.RequestError(rollbar.ERR, req, err)
}

// Close flushes queued items.
func (r *Reporter) Close() error {
	if !r.Enabled() {
		return nil
	}
	return r.client.Close()
}

// Recovery converts panics into 500 responses and reports them.
func (r *Reporter) Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		err := fmt.Errorf("panic: %v", recovered)
		r.logger.Error("panic recovered", zap.String("path", c.Request.URL.Path), zap.Any("panic", recovered))
		if r.Enabled() {
			r.client.RequestError(rollbar.CRIT, c.Request, err)
		}
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message))
		c.Abort()
	})
}

// Middleware reports errors attached to 5xx responses.
func (r *Reporter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Status() < http.StatusInternalServerError || len(c.Errors) == 0 {
			return
		}
		for _, ginErr := range c.Errors {
			r.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(ginErr.Err))
			r.Request(c.Request, ginErr.Err)
		}
	}
}
