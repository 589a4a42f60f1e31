package ratelimiter

import (
	"hash/fnv"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrymomot/adminbilling/pkg/logger"
)

const maxKeyLength = 64

// KeyFunc extracts the bucket key. An empty key skips limiting.
type KeyFunc func(r *http.Request) string

// Composite joins non-empty parts with ':'; keys longer than 64 bytes are
// hashed with FNV-1a.
func Composite(keyFuncs ...KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		parts := make([]string, 0, len(keyFuncs))
		for _, fn := range keyFuncs {
			if key := fn(r); key != "" {
				parts = append(parts, key)
			}
		}
		combined := strings.Join(parts, ":")
		if len(combined) <= maxKeyLength {
			return combined
		}
		h := fnv.New64a()
		h.Write([]byte(combined))
		return strconv.FormatUint(h.Sum64(), 36)
	}
}

type middleware struct {
	denied   func(w http.ResponseWriter, r *http.Request, res Result)
	failed   func(w http.ResponseWriter, r *http.Request, err error)
	failOpen bool
	log      *slog.Logger
	now      func() time.Time
}

type MiddlewareOption func(*middleware)

// WithDeniedHandler renders 429 responses. Limit headers are already set.
func WithDeniedHandler(fn func(w http.ResponseWriter, r *http.Request, res Result)) MiddlewareOption {
	return func(m *middleware) {
		if fn != nil {
			m.denied = fn
		}
	}
}

// WithErrorHandler renders store failures when the middleware fails closed.
func WithErrorHandler(fn func(w http.ResponseWriter, r *http.Request, err error)) MiddlewareOption {
	return func(m *middleware) {
		if fn != nil {
			m.failed = fn
		}
	}
}

// WithFailOpen lets requests through when the store is unavailable.
func WithFailOpen() MiddlewareOption {
	return func(m *middleware) { m.failOpen = true }
}

func WithMiddlewareLogger(l *slog.Logger) MiddlewareOption {
	return func(m *middleware) {
		if l != nil {
			m.log = l
		}
	}
}

func Middleware(l Limiter, keyFunc KeyFunc, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if l == nil {
		panic("ratelimiter: Limiter is required")
	}
	m := &middleware{
		denied: func(w http.ResponseWriter, _ *http.Request, _ Result) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		},
		failed: func(w http.ResponseWriter, _ *http.Request, _ error) {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		},
		log: logger.Discard(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			res, err := l.Allow(r.Context(), key)
			if err != nil {
				if m.failOpen {
					m.log.WarnContext(r.Context(), "rate limiter unavailable, allowing request", logger.Error(err))
					next.ServeHTTP(w, r)
					return
				}
				m.failed(w, r, err)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(max(0, res.Remaining)))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed() {
				secs := int((res.RetryAfter(m.now()) + time.Second - 1) / time.Second)
				h.Set("Retry-After", strconv.Itoa(max(1, secs)))
				m.denied(w, r, res)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
