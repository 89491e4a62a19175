package httpx

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ulule/limiter/v3"
	limiterhttp "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"restaurant-pos/internal/common/logger"
	"restaurant-pos/internal/domain"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderUserID    = "X-User-ID"
	HeaderUserRole  = "X-User-Role"
)

type Middleware func(http.Handler) http.Handler

// Chain applies mws so that the first one is outermost.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// RequestID propagates or generates X-Request-ID and stores it in the context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(logger.ContextWithRequestID(r.Context(), id)))
	})
}

type actorKey struct{}

// Identity reads the caller identity headers set by the upstream gateway.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := domain.Actor{
			ID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
			Role: strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole))),
		}
		if actor.ID == "" {
			actor.ID = "anonymous"
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

// ActorFrom returns the caller stored by Identity.
func ActorFrom(ctx context.Context) domain.Actor {
	if a, ok := ctx.Value(actorKey{}).(domain.Actor); ok {
		return a
	}
	return domain.Actor{ID: "anonymous"}
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Logging writes one entry per request.
func Logging(lg *logger.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			fields := map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"duration_ms": time.Since(start).Milliseconds(),
			}
			if rec.status >= http.StatusInternalServerError {
				lg.Ctx(r.Context()).Warn("http_request_failed", fields)
				return
			}
			lg.Ctx(r.Context()).Debug("http_request", fields)
		})
	}
}

// Timeout bounds the request context.
func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimit throttles clients by IP with an in-memory store. rate uses the
// limiter format, e.g. "600-M".
func RateLimit(rate string) (Middleware, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, err
	}
	instance := limiter.New(memory.NewStore(), parsed)
	mw := limiterhttp.NewMiddleware(instance,
		limiterhttp.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			WriteProblem(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
		}),
	)
	return mw.Handler, nil
}

// Recover turns handler panics into a 500 problem.
func Recover(lg *logger.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					lg.Ctx(r.Context()).Error("http_panic", nil, map[string]any{"panic": v, "path": r.URL.Path})
					WriteProblem(w, http.StatusInternalServerError, "internal", "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
