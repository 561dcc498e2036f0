package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"callguard/pkg/config"
	"callguard/pkg/errors"
	"callguard/pkg/metrics"
)

// HTTPMiddleware limits requests per client IP
type HTTPMiddleware struct {
	limiter         *Limiter
	config          config.RateLimitConfig
	logger          *logrus.Logger
	whitelistedIPs  map[string]bool
	whitelistedNets []*net.IPNet
}

// NewHTTPMiddleware builds the middleware from the rate limit config
func NewHTTPMiddleware(cfg config.RateLimitConfig, logger *logrus.Logger) *HTTPMiddleware {
	m := &HTTPMiddleware{
		limiter:        NewLimiter(cfg.RequestsPerSecond, cfg.BurstSize, logger),
		config:         cfg,
		logger:         logger,
		whitelistedIPs: make(map[string]bool),
	}

	for _, ip := range cfg.WhitelistedIPs {
		ip = strings.TrimSpace(ip)
		if ip == "" {
			continue
		}
		if strings.Contains(ip, "/") {
			_, ipNet, err := net.ParseCIDR(ip)
			if err == nil {
				m.whitelistedNets = append(m.whitelistedNets, ipNet)
			} else {
				logger.WithError(err).Warnf("Invalid CIDR in whitelist: %s", ip)
			}
		} else {
			m.whitelistedIPs[ip] = true
		}
	}

	logger.WithFields(logrus.Fields{
		"enabled":         cfg.Enabled,
		"rps":             cfg.RequestsPerSecond,
		"burst":           cfg.BurstSize,
		"whitelisted_ips": len(m.whitelistedIPs) + len(m.whitelistedNets),
	}).Info("HTTP rate limiting middleware initialized")

	return m
}

// Middleware wraps next with rate limiting. It is a passthrough when disabled.
func (m *HTTPMiddleware) Middleware(next http.Handler) http.Handler {
	if !m.config.Enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := ClientIP(r)

		if m.isIPWhitelisted(clientIP) {
			next.ServeHTTP(w, r)
			return
		}

		if !m.limiter.Allow(clientIP) {
			m.logger.WithFields(logrus.Fields{
				"client_ip": clientIP,
				"path":      r.URL.Path,
				"method":    r.Method,
			}).Warn("Rate limit exceeded")
			metrics.RecordRateLimitRejection(r.URL.Path)

			if !m.limiter.IsBlocked(clientIP) && m.config.BlockDuration > 0 {
				m.limiter.Block(clientIP, m.config.BlockDuration)
			}

			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", m.config.BlockDuration.Seconds()))
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%g", m.config.RequestsPerSecond))
			w.Header().Set("X-RateLimit-Remaining", "0")
			errors.WriteError(w, errors.NewRateLimited("Too many requests. Please retry later."))
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%g", m.config.RequestsPerSecond))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%.0f", m.limiter.Tokens(clientIP)))

		next.ServeHTTP(w, r)
	})
}

// Limiter returns the underlying limiter
func (m *HTTPMiddleware) Limiter() *Limiter {
	return m.limiter
}

// ClientIP extracts the client IP from the request, honoring proxy headers
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(ip) != nil {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if net.ParseIP(xri) != nil {
			return xri
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (m *HTTPMiddleware) isIPWhitelisted(ip string) bool {
	if m.whitelistedIPs[ip] {
		return true
	}

	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return false
	}

	for _, ipNet := range m.whitelistedNets {
		if ipNet.Contains(parsedIP) {
			return true
		}
	}

	return false
}
