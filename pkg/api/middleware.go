package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tomehq/tome/pkg/auth"
	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/metrics"
)

type ctxKey int

const (
	ctxClaims ctxKey = iota
	ctxRequestID
)

// claimsFrom returns the authenticated caller, or nil on unauthenticated
// routes.
func claimsFrom(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(ctxClaims).(*auth.Claims)
	return claims
}

// requestIDFrom returns the request correlation id.
func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxRequestID).(string)
	return id
}

// requestID assigns or propagates the X-Request-Id header. The id is echoed
// on the response and rides the context into logs and audit rows.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxRequestID, id)))
	})
}

// logRequests writes one structured line per completed request. Probe and
// scrape-target endpoints are skipped to keep the log signal clean.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		started := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		evt := s.logger.Info()
		if ww.Status() >= http.StatusInternalServerError {
			evt = s.logger.Error()
		}
		evt.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(started)).
			Str("request_id", requestIDFrom(r.Context())).
			Msg("Request completed")
	})
}

// authenticate resolves the bearer token into claims. Websocket upgrades
// cannot set headers from the browser, so ?access_token= is accepted as a
// fallback.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("access_token")
		}
		if token == "" {
			writeError(w, r, errdefs.ErrUnauthenticated)
			return
		}
		claims, err := s.auth.Verify(r.Context(), token)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxClaims, claims)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// rateLimit applies the per (org, user) token bucket. Runs after
// authenticate so the key is always a real principal.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r)
		if claims != nil && !s.limiter.allow(claims.OrgID.String()+"/"+claims.UserID.String()) {
			writeError(w, r, errdefs.ErrOverloaded)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// measure records request count and latency against the matched chi route
// pattern, so /files/{fileID} stays one series regardless of id.
func (s *Server) measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.APIRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(started).Seconds())
	})
}

// rateLimiter keys token buckets by principal. Buckets idle past the
// retention window are pruned on the next lookup sweep.
type rateLimiter struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	entries map[string]*limiterEntry
	swept   time.Time
}

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

const limiterRetention = 10 * time.Minute

func newRateLimiter(rps float64, burst int) *rateLimiter {
	return &rateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		entries: make(map[string]*limiterEntry),
		swept:   time.Now(),
	}
}

func (l *rateLimiter) allow(key string) bool {
	if l.rps <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	entry, ok := l.entries[key]
	if !ok {
		entry = &limiterEntry{lim: rate.NewLimiter(l.rps, l.burst)}
		l.entries[key] = entry
	}
	entry.seen = now

	if now.Sub(l.swept) > limiterRetention {
		for k, e := range l.entries {
			if now.Sub(e.seen) > limiterRetention {
				delete(l.entries, k)
			}
		}
		l.swept = now
	}
	return entry.lim.Allow()
}
