package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// opUnmatched labels requests that hit no route.
const opUnmatched = "unmatched"

// GinMiddleware records RED metrics for every request handled by a gin engine.
// The operation label is the matched route template, so per-project paths do
// not explode metric cardinality.
func GinMiddleware(red *REDMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		op := c.FullPath()
		if op == "" {
			op = opUnmatched
		}

		ctx := c.Request.Context()
		done := red.TrackInflight(ctx, op)
		start := time.Now()

		c.Next()

		done()
		red.RecordRequest(ctx, c.Request.Method+" "+op, ResponseStatus(c.Writer.Status()), time.Since(start))
	}
}

// ResponseStatus maps an HTTP status code to a RED status label.
func ResponseStatus(code int) string {
	switch {
	case code >= http.StatusInternalServerError:
		return statusError
	case code == http.StatusNotFound:
		return StatusNotFound
	case code >= http.StatusBadRequest:
		return StatusClientError
	default:
		return StatusOK
	}
}
