package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kcea-attendance/internal/service"
)

// unmatchedRoute labels requests that hit no route.
const unmatchedRoute = "unmatched"

// Metrics records latency and status per route template. Requests that match
// no route share one label so scanners cannot inflate cardinality. Scrapes of
// skip paths (usually /metrics itself) are not observed.
func Metrics(metrics *service.MetricsService, skip ...string) gin.HandlerFunc {
	ignored := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		ignored[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if metrics == nil {
			c.Next()
			return
		}
		route := c.FullPath()
		if _, ok := ignored[route]; ok {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		if route == "" {
			route = unmatchedRoute
		}
		metrics.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
