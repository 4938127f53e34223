package gateway

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/haasonsaas/cinebot/internal/observability"
)

const requestIDHeader = "X-Request-ID"

// securityHeaders sets the hardening headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	origins := s.config.Server.AllowedOrigins
	allowAll := false
	for _, origin := range origins {
		if origin == "*" {
			allowAll = true
			break
		}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{requestIDHeader, "Retry-After"},
		// Credentials cannot be combined with a wildcard origin.
		AllowCredentials: !allowAll,
	}).Handler(next)
}

// withRequestID propagates or assigns X-Request-ID and stores it in the
// request context for logging.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := observability.AddRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				observability.LoggerFrom(r.Context(), s.logger).Error("panic serving request",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", fmt.Sprint(rec),
				)
				s.metrics.RecordError("http", "panic")
				writeError(w, http.StatusInternalServerError, "Internal server error", s.now())
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// instrument records a span, metrics and a log line for one route. pattern
// is used as the path label to keep metric cardinality bounded.
func (s *Server) instrument(pattern string, next http.Handler) http.Handler {
	label := pattern
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		label = pattern[i+1:]
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := s.tracer.ExtractContext(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := s.tracer.TraceHTTPRequest(ctx, r.Method, label)
		defer span.End()

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r.WithContext(ctx))

		duration := time.Since(start)
		span.SetAttributes(attribute.Int("http.status_code", wrapped.status))
		s.metrics.RecordHTTPRequest(r.Method, label, strconv.Itoa(wrapped.status), duration.Seconds())

		logger := observability.LoggerFrom(ctx, s.logger)
		level := logger.Debug
		if wrapped.status >= http.StatusInternalServerError {
			level = logger.Warn
		}
		level("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", label,
			"status", wrapped.status,
			"duration", duration,
			"remote_addr", r.RemoteAddr,
		)
	})
}

// rateLimit rejects requests over route's per-client allowance.
func (s *Server) rateLimit(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.allow(w, r, route) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allow consumes one request from route's allowance for the client. When the
// allowance is spent it writes a 429 and returns false.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, route string) bool {
	limiter, ok := s.limiters[route]
	if !ok {
		return true
	}
	decision := limiter.Allow(clientIP(r))
	if decision.Allowed {
		return true
	}

	retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	s.metrics.RecordRateLimited(route)
	observability.LoggerFrom(r.Context(), s.logger).Info("rate limit exceeded",
		"route", route,
		"client", clientIP(r),
		"retry_after", retryAfter,
	)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeJSON(w, http.StatusTooManyRequests, rateLimitResponse{
		errorResponse: newErrorResponse(http.StatusTooManyRequests,
			fmt.Sprintf("Rate limit exceeded: %s", decision.Policy), s.now()),
		Limit:      decision.Policy.String(),
		RetryAfter: retryAfter,
	})
	return false
}

// clientIP is the remote address without its port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// jsonFallback renders the mux's own plain-text 404 and 405 replies in the
// API's JSON error format.
func jsonFallback(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, pattern := mux.Handler(r); pattern != "" {
			mux.ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(&plainErrorWriter{ResponseWriter: w}, r)
	})
}

// plainErrorWriter swallows a plain-text error body and writes a JSON error
// with the same status instead.
type plainErrorWriter struct {
	http.ResponseWriter
	replaced bool
}

func (w *plainErrorWriter) WriteHeader(code int) {
	if code >= http.StatusBadRequest && strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain") {
		w.replaced = true
		writeError(w.ResponseWriter, code, http.StatusText(code), time.Now())
		return
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *plainErrorWriter) Write(b []byte) (int, error) {
	if w.replaced {
		return len(b), nil
	}
	return w.ResponseWriter.Write(b)
}
