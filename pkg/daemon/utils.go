package daemon

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// streamPrefixes are long-lived endpoints whose latency is connection time.
var streamPrefixes = []string{"/events", "/ws/"}

func isStream(path string) bool {
	for _, p := range streamPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// ginLogger logs each request through logger. Client faults and an
// unavailable sensor are warnings; other 5xx are errors.
func ginLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// handlers may rewrite c.Request.URL
		path := c.Request.URL.Path
		start := time.Now()
		c.Next()
		latency := time.Since(start).Milliseconds()
		statusCode := c.Writer.Status()
		dataLength := max(c.Writer.Size(), 0)

		entry := logger.WithFields(logrus.Fields{
			"statusCode": statusCode,
			"latencyMs":  latency,
			"method":     c.Request.Method,
			"path":       path,
			"client":     c.ClientIP(),
			"dataLength": dataLength,
		})

		if isStream(path) {
			entry.Debugf("%s closed after %s", path, time.Duration(latency)*time.Millisecond)
			return
		}

		msg := fmt.Sprintf("%s %s %d (%dms)", c.Request.Method, path, statusCode, latency)
		if len(c.Errors) > 0 {
			msg = c.Errors.ByType(gin.ErrorTypePrivate).String()
		}
		switch {
		case statusCode >= http.StatusInternalServerError && statusCode != http.StatusServiceUnavailable:
			entry.Error(msg)
		case statusCode >= http.StatusBadRequest:
			entry.Warn(msg)
		default:
			entry.Debug(msg)
		}
	}
}
