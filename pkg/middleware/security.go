// Package middleware holds the net/http middleware wrapped around the raw storefront endpoints
package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"tourmaline.app/pkg/errs"
	"tourmaline.app/pkg/httpx"
	"tourmaline.app/pkg/logger"
	"tourmaline.app/pkg/metrics"
)

// Middleware wraps an http.Handler
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so the first one listed runs outermost
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// SecurityConfig defines the headers set by SecurityHeaders
type SecurityConfig struct {
	EnableHSTS               bool
	HSTSMaxAge               int
	EnableContentTypeNoSniff bool
	FrameOptionsValue        string
	ContentSecurityPolicy    string
	ReferrerPolicy           string
}

// DefaultSecurityConfig is used for the JSON API routes
var DefaultSecurityConfig = SecurityConfig{
	EnableHSTS:               true,
	HSTSMaxAge:               31536000, // 1 year
	EnableContentTypeNoSniff: true,
	FrameOptionsValue:        "DENY",
	ReferrerPolicy:           "strict-origin-when-cross-origin",
}

// StaticSecurityConfig is used for pages that load Stripe.js and its iframes
var StaticSecurityConfig = SecurityConfig{
	EnableHSTS:               true,
	HSTSMaxAge:               31536000,
	EnableContentTypeNoSniff: true,
	FrameOptionsValue:        "SAMEORIGIN",
	ContentSecurityPolicy:    "default-src 'self'; script-src 'self' https://js.stripe.com; frame-src https://js.stripe.com https://hooks.stripe.com; connect-src 'self' https://api.stripe.com; img-src 'self' data: https:; style-src 'self' 'unsafe-inline';",
	ReferrerPolicy:           "strict-origin-when-cross-origin",
}

// SecurityHeaders adds security headers to responses
func SecurityHeaders(config SecurityConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if config.EnableHSTS && r.TLS != nil {
				h.Set("Strict-Transport-Security", fmt.Sprintf("max-age=%d; includeSubDomains", config.HSTSMaxAge))
			}
			if config.EnableContentTypeNoSniff {
				h.Set("X-Content-Type-Options", "nosniff")
			}
			if config.FrameOptionsValue != "" {
				h.Set("X-Frame-Options", config.FrameOptionsValue)
			}
			if config.ContentSecurityPolicy != "" {
				h.Set("Content-Security-Policy", config.ContentSecurityPolicy)
			}
			if config.ReferrerPolicy != "" {
				h.Set("Referrer-Policy", config.ReferrerPolicy)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORSConfig defines CORS configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	ExposedHeaders []string
	MaxAge         int
}

// DefaultCORSConfig allows any origin, matching the public storefront API
var DefaultCORSConfig = CORSConfig{
	AllowedOrigins: []string{"*"},
	AllowedMethods: []string{"GET", "POST", "OPTIONS"},
	AllowedHeaders: []string{"Content-Type", "Stripe-Signature", "Idempotency-Key"},
	ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
	MaxAge:         86400,
}

// CORS handles Cross-Origin Resource Sharing. The config is fetched per
// request so hot-reloaded settings take effect immediately. Preflight
// requests are answered with 204 and never reach next.
func CORS(getConfig func() CORSConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			config := getConfig()
			origin := r.Header.Get("Origin")
			h := w.Header()

			h.Add("Vary", "Origin")
			if len(config.AllowedOrigins) == 1 && config.AllowedOrigins[0] == "*" {
				h.Set("Access-Control-Allow-Origin", "*")
			} else if httpx.IsOriginAllowed(origin, config.AllowedOrigins) {
				h.Set("Access-Control-Allow-Origin", origin)
			}
			if len(config.AllowedMethods) > 0 {
				h.Set("Access-Control-Allow-Methods", strings.Join(config.AllowedMethods, ", "))
			}
			if len(config.AllowedHeaders) > 0 {
				h.Set("Access-Control-Allow-Headers", strings.Join(config.AllowedHeaders, ", "))
			}
			if len(config.ExposedHeaders) > 0 {
				h.Set("Access-Control-Expose-Headers", strings.Join(config.ExposedHeaders, ", "))
			}

			if r.Method == http.MethodOptions {
				if config.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(config.MaxAge))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// StaticCORS returns a getter for a fixed config
func StaticCORS(config CORSConfig) func() CORSConfig {
	return func() CORSConfig { return config }
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		w.statusCode = statusCode
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// Logging logs each request and records the HTTP metrics under route
func Logging(route string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rec, r)

			status := strconv.Itoa(rec.statusCode)
			metrics.ObserveHTTPRequest(r.Method, route, status, start)

			fields := logger.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.statusCode,
				"duration_ms": time.Since(start).Milliseconds(),
			}
			if rec.statusCode >= http.StatusInternalServerError {
				logger.Warn(r.Context(), "request failed", fields)
			} else {
				logger.Debug(r.Context(), "request served", fields)
			}
		})
	}
}

// Recovery turns a panic into a logged 500 JSON error
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.LogPanic(r.Context(), rec, logger.Fields{"path": r.URL.Path})
					httpx.WriteError(w, errs.E(r.Context(), errs.Internal, "Internal Server Error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID tags the request context and response with a request id,
// reusing an inbound X-Request-ID when it looks sane.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" || len(requestID) > 128 {
				requestID = "req_" + uuid.NewString()
			}
			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), requestID)))
		})
	}
}
