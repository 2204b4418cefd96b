package middleware

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"gorinidrive.com/vault/internal/errs"
)

var (
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_api_requests_total",
			Help: "Total number of requests processed by the vault-api.",
		},
		[]string{"path", "status"},
	)
	ErrorCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_api_requests_errors_total",
			Help: "Total number of error requests processed by the vault-api, by error kind.",
		},
		[]string{"path", "status", "kind"},
	)
)

// PrometheusInit registers the request counters plus any component
// collectors.
func PrometheusInit(extra ...prometheus.Collector) {
	prometheus.MustRegister(RequestCount)
	prometheus.MustRegister(ErrorCount)
	for _, c := range extra {
		prometheus.MustRegister(c)
	}
}

// ErrorRes is the body of every failed request.
type ErrorRes struct {
	Kind    errs.Kind `json:"kind"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Reason  string    `json:"reason,omitempty"`
}

// Abort records err for ErrorHandler and stops the handler chain. The
// status is derived from the error kind.
func Abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// ErrorHandler is middleware that returns errors in structured JSON format.
// Only errs.Error values are rendered; anything else becomes a generic
// internal error and its detail is logged.
func ErrorHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		ginErr := c.Errors.Last()
		if ginErr == nil {
			return
		}
		e, ok := errs.As(ginErr.Err)
		if !ok {
			e = errs.Internal(ginErr.Err)
		}
		if e.Kind == errs.KindInternal {
			logger.Errorf("%s %s: %s", c.Request.Method, c.Request.URL.Path, ginErr.Err)
		} else {
			logger.Warnf("%s %s: %s", c.Request.Method, c.Request.URL.Path, e)
		}
		c.Set("error_kind", string(e.Kind))
		if c.Writer.Size() > 0 {
			// body already streamed, nothing sensible left to send
			return
		}
		status := errs.Status(e)
		if c.Writer.Written() {
			status = -1
		}
		c.JSON(status, ErrorRes{Kind: e.Kind, Code: e.Code, Message: e.Message, Reason: e.Reason})
	}
}

// LogHandler is middleware that logs response times
func LogHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		c.Next() // Process request
		status := c.Writer.Status()
		clientIP := c.ClientIP()
		latency := time.Since(start)
		if status >= 400 {
			logger.Errorf("from: %s | took: %dms | %d %s %s", clientIP, latency.Milliseconds(), status, method, c.Request.URL.Path)
			ErrorCount.WithLabelValues(path, http.StatusText(status), c.GetString("error_kind")).Inc()
		} else {
			logger.Infof("from: %s | took: %dms | %d %s %s", clientIP, latency.Milliseconds(), status, method, c.Request.URL.Path)
		}
		RequestCount.WithLabelValues(path, http.StatusText(status)).Inc()
	}
}

// Wraps the prometheus handler with basic auth
func MetricsHandler(metricsPassword string) gin.HandlerFunc {
	promHandler := promhttp.Handler()

	return func(c *gin.Context) {
		_, pass, ok := c.Request.BasicAuth()

		if metricsPassword == "" || !ok || subtle.ConstantTimeCompare([]byte(pass), []byte(metricsPassword)) != 1 {
			Abort(c, errs.ErrAuthentication)
			return
		}

		promHandler.ServeHTTP(c.Writer, c.Request)
	}
}
