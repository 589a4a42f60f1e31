package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrymomot/adminbilling/pkg/logger"
	rkey "github.com/dmitrymomot/adminbilling/pkg/redis"
)

const (
	// Header carries the client-supplied idempotency key.
	Header = "Idempotency-Key"
	// ReplayedHeader is set on responses served from the cache.
	ReplayedHeader = "Idempotent-Replayed"

	DefaultTTL   = 24 * time.Hour
	maxKeyLength = 255
	maxBodyBytes = 1 << 20
)

// ErrorHandler renders a rejected request.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

type middleware struct {
	store     Store
	ttl       time.Duration
	prefix    string
	namespace string
	actor     func(*http.Request) string
	onError   ErrorHandler
	log       *slog.Logger
	now       func() time.Time
}

// Option configures the middleware.
type Option func(*middleware)

func WithTTL(ttl time.Duration) Option {
	return func(m *middleware) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithPrefix sets the key prefix shared with other Redis users.
func WithPrefix(prefix string) Option {
	return func(m *middleware) { m.prefix = prefix }
}

// WithNamespace scopes keys to a route group.
func WithNamespace(ns string) Option {
	return func(m *middleware) { m.namespace = ns }
}

// WithActor extracts the caller identity that scopes keys.
func WithActor(fn func(*http.Request) string) Option {
	return func(m *middleware) {
		if fn != nil {
			m.actor = fn
		}
	}
}

func WithErrorHandler(h ErrorHandler) Option {
	return func(m *middleware) {
		if h != nil {
			m.onError = h
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *middleware) {
		if l != nil {
			m.log = l
		}
	}
}

func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	switch {
	case errors.Is(err, ErrKeyReused), errors.Is(err, ErrRequestInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrInvalidKey):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	}
}

// Middleware replays responses for repeated Idempotency-Key requests.
// Requests without the header pass through. A reused key with a different
// fingerprint is rejected with ErrKeyReused; a duplicate arriving while the
// first is still running gets ErrRequestInProgress. Responses with status
// >= 500 are not cached.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	if store == nil {
		panic("idempotency: Store is required")
	}
	m := &middleware{
		store:     store,
		ttl:       DefaultTTL,
		prefix:    "",
		namespace: "default",
		actor:     func(*http.Request) string { return "anonymous" },
		onError:   defaultErrorHandler,
		log:       logger.Discard(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m.wrap
}

func (m *middleware) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(Header)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxKeyLength {
			m.onError(w, r, ErrInvalidKey)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			m.onError(w, r, errors.Join(ErrInvalidKey, err))
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		actor := m.actor(r)
		storeKey := rkey.Key(m.prefix, "idempotency", m.namespace, actor, key)
		fingerprint := Fingerprint(r.Method, r.URL.Path, actor, body)
		ctx := r.Context()

		existing, reserved, err := m.store.Reserve(ctx, storeKey, Record{
			Fingerprint: fingerprint,
			CreatedAt:   m.now().UTC(),
		}, m.ttl)
		if err != nil {
			m.log.ErrorContext(ctx, "idempotency store failed", logger.Component("idempotency"), logger.Error(err))
			m.onError(w, r, err)
			return
		}
		if !reserved {
			m.replay(w, r, existing, fingerprint)
			return
		}

		rec := &recorder{ResponseWriter: w, status: http.StatusOK}
		completed := false
		defer func() {
			if !completed {
				m.release(ctx, storeKey)
			}
		}()

		next.ServeHTTP(rec, r)

		if rec.status >= http.StatusInternalServerError {
			return
		}
		err = m.store.Complete(context.WithoutCancel(ctx), storeKey, Record{
			Fingerprint: fingerprint,
			Completed:   true,
			Status:      rec.status,
			ContentType: rec.Header().Get("Content-Type"),
			Body:        rec.body.Bytes(),
			CreatedAt:   m.now().UTC(),
		}, m.ttl)
		if err != nil {
			m.log.WarnContext(ctx, "failed to cache idempotent response", logger.Component("idempotency"), logger.Error(err))
			return
		}
		completed = true
	})
}

func (m *middleware) replay(w http.ResponseWriter, r *http.Request, rec Record, fingerprint string) {
	switch {
	case rec.Fingerprint != fingerprint:
		m.onError(w, r, ErrKeyReused)
	case !rec.Completed:
		m.onError(w, r, ErrRequestInProgress)
	default:
		if rec.ContentType != "" {
			w.Header().Set("Content-Type", rec.ContentType)
		}
		w.Header().Set(ReplayedHeader, "true")
		w.Header().Set("Content-Length", strconv.Itoa(len(rec.Body)))
		w.WriteHeader(rec.Status)
		_, _ = w.Write(rec.Body)
	}
}

func (m *middleware) release(ctx context.Context, key string) {
	if err := m.store.Release(context.WithoutCancel(ctx), key); err != nil {
		m.log.WarnContext(ctx, "failed to release idempotency key", logger.Component("idempotency"), logger.Error(err))
	}
}

// recorder tees the response into a buffer.
type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *recorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
