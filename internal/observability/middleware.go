package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// UnmatchedRoute labels admin requests that hit no registered route. Raw
// paths are kept out of metric labels.
const UnmatchedRoute = "unmatched"

// probeRoutes are polled by supervisors and scrapers; successful hits are
// logged at debug.
var probeRoutes = map[string]bool{
	"/health":  true,
	"/ready":   true,
	"/metrics": true,
}

// AdminAccess logs and counts every admin request for service.
func AdminAccess(logger zerolog.Logger, service string) gin.HandlerFunc {
	logger = logger.With().Str("service", service).Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = UnmatchedRoute
		}
		RecordHTTPRequest(c.Request.Method, route, status, elapsed)

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case probeRoutes[route]:
			event = logger.Debug()
		default:
			event = logger.Info()
		}
		if route == UnmatchedRoute {
			event = event.Str("path", c.Request.URL.Path)
		}
		event.
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", elapsed).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("admin request")
	}
}
