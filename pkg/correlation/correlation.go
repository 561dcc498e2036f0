// Package correlation tags HTTP requests with an ID that follows them through
// the logs.
package correlation

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"callguard/pkg/ratelimit"
)

// Header names accepted for an incoming correlation ID, in priority order.
// The first is also set on every response.
const (
	HTTPHeader          = "X-Correlation-ID"
	HTTPRequestIDHeader = "X-Request-ID"
)

// maxIDLength bounds client supplied IDs
const maxIDLength = 128

type contextKey int

const (
	correlationIDKey contextKey = iota
	clientIPKey
)

// ID is a correlation ID
type ID string

func (id ID) String() string { return string(id) }

// IsEmpty reports whether the ID is unset
func (id ID) IsEmpty() bool { return id == "" }

// New generates a correlation ID
func New() ID {
	return ID(uuid.NewString())
}

// WithCorrelationID returns a context carrying id
func WithCorrelationID(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// FromContext returns the correlation ID of ctx, or an empty ID
func FromContext(ctx context.Context) ID {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationIDKey).(ID)
	return id
}

// LoggerFromContext returns an entry tagged with the request's correlation ID
// and client address
func LoggerFromContext(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	fields := logrus.Fields{}
	if id := FromContext(ctx); !id.IsEmpty() {
		fields["correlation_id"] = id.String()
	}
	if ctx != nil {
		if ip, ok := ctx.Value(clientIPKey).(string); ok && ip != "" {
			fields["client_ip"] = ip
		}
	}
	return logger.WithFields(fields)
}

// Middleware attaches a correlation ID to every request, echoes it in the
// response and logs the completed request
func Middleware(logger *logrus.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		id := extractCorrelationID(r)
		if id.IsEmpty() {
			id = New()
		}
		clientIP := ratelimit.ClientIP(r)

		ctx := WithCorrelationID(r.Context(), id)
		ctx = context.WithValue(ctx, clientIPKey, clientIP)
		r = r.WithContext(ctx)

		w.Header().Set(HTTPHeader, id.String())

		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		fields := logrus.Fields{
			"correlation_id": id.String(),
			"method":         r.Method,
			"path":           r.URL.Path,
			"status":         wrapper.statusCode,
			"duration_ms":    time.Since(startTime).Milliseconds(),
			"client_ip":      clientIP,
		}
		switch {
		case wrapper.statusCode >= 500:
			logger.WithFields(fields).Error("HTTP request completed with server error")
		case wrapper.statusCode >= 400:
			logger.WithFields(fields).Warn("HTTP request completed with client error")
		default:
			logger.WithFields(fields).Debug("HTTP request completed")
		}
	})
}

func extractCorrelationID(r *http.Request) ID {
	for _, header := range []string{HTTPHeader, HTTPRequestIDHeader} {
		if id := r.Header.Get(header); id != "" && len(id) <= maxIDLength {
			return ID(id)
		}
	}
	return ""
}

// responseWrapper captures the status code
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (w *responseWrapper) WriteHeader(statusCode int) {
	if !w.written {
		w.statusCode = statusCode
		w.written = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWrapper) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer to http.ResponseController
func (w *responseWrapper) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack lets websocket upgrades pass through the middleware
func (w *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.written = true
	w.statusCode = http.StatusSwitchingProtocols
	return http.NewResponseController(w.ResponseWriter).Hijack()
}
