package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/towline/towline-backend/api/responses"
	pkgerrors "github.com/towline/towline-backend/pkg/errors"
	"github.com/towline/towline-backend/pkg/logger"
	pkgredis "github.com/towline/towline-backend/pkg/redis"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayedHeader    = "Idempotent-Replayed"

	defaultIdempotencyTTL = 24 * time.Hour
	// PaymentIdempotencyTTL keeps payment retries replayable for a week.
	PaymentIdempotencyTTL = 7 * 24 * time.Hour

	idempotencyLease    = time.Minute
	maxIdempotencyKey   = 255
	maxIdempotentBodyKB = 1024
)

// IdempotencyStore is the redis surface the middleware writes records to.
type IdempotencyStore interface {
	pkgredis.IdempotencyStore
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

type recordState string

const (
	statePending  recordState = "pending"
	stateComplete recordState = "complete"
)

type idempotencyRecord struct {
	State       recordState `json:"state"`
	RequestHash string      `json:"request_hash"`
	Status      int         `json:"status,omitempty"`
	ContentType string      `json:"content_type,omitempty"`
	Body        []byte      `json:"body,omitempty"`
}

// Idempotency guards mutating routes with the Idempotency-Key header.
// The first request with a key claims it; a concurrent duplicate gets 409
// while the first is running, a later duplicate gets the stored response,
// and a reused key with a different body is rejected. 5xx responses free
// the key so the client can retry.
type Idempotency struct {
	store      IdempotencyStore
	defaultTTL time.Duration
	logg       *logger.Logger
}

func NewIdempotency(store IdempotencyStore, defaultTTL time.Duration, logg *logger.Logger) *Idempotency {
	if defaultTTL <= 0 {
		defaultTTL = defaultIdempotencyTTL
	}
	return &Idempotency{store: store, defaultTTL: defaultTTL, logg: logg}
}

// Require returns the middleware for one route. A zero ttl uses the default.
func (m *Idempotency) Require(ttl time.Duration) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			switch {
			case clientKey == "":
				responses.WriteError(ctx, m.logg, w, pkgerrors.New(pkgerrors.CodeValidation, IdempotencyHeader+" header required"))
				return
			case len(clientKey) > maxIdempotencyKey:
				responses.WriteError(ctx, m.logg, w, pkgerrors.New(pkgerrors.CodeValidation, IdempotencyHeader+" header too long"))
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIdempotentBodyKB<<10))
			if err != nil {
				responses.WriteError(ctx, m.logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			hash := hashBody(body)
			key := m.store.IdempotencyKey(requestScope(r), clientKey)
			claimed, err := m.claim(ctx, key, hash)
			if err != nil {
				responses.WriteError(ctx, m.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				m.replay(w, r, key, hash)
				return
			}

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			m.finish(context.WithoutCancel(ctx), key, hash, rec, ttl)
		})
	}
}

func (m *Idempotency) claim(ctx context.Context, key, hash string) (bool, error) {
	pending, err := json.Marshal(idempotencyRecord{State: statePending, RequestHash: hash})
	if err != nil {
		return false, err
	}
	return m.store.SetNX(ctx, key, string(pending), idempotencyLease)
}

func (m *Idempotency) replay(w http.ResponseWriter, r *http.Request, key, hash string) {
	ctx := r.Context()
	raw, err := m.store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// The lease expired between SetNX and Get.
		responses.WriteError(ctx, m.logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is still in progress"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, m.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record"))
		return
	}
	var record idempotencyRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		responses.WriteError(ctx, m.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case record.RequestHash != hash:
		responses.WriteError(ctx, m.logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with a different request body"))
	case record.State != stateComplete:
		responses.WriteError(ctx, m.logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is still in progress"))
	default:
		if record.ContentType != "" {
			w.Header().Set("Content-Type", record.ContentType)
		}
		w.Header().Set(ReplayedHeader, "true")
		w.WriteHeader(record.Status)
		_, _ = w.Write(record.Body)
	}
}

func (m *Idempotency) finish(ctx context.Context, key, hash string, rec *responseCapture, ttl time.Duration) {
	status := rec.statusOrOK()
	if status >= http.StatusInternalServerError {
		if err := m.store.Del(ctx, key); err != nil {
			m.logError(ctx, "release idempotency key", err)
		}
		return
	}
	payload, err := json.Marshal(idempotencyRecord{
		State:       stateComplete,
		RequestHash: hash,
		Status:      status,
		ContentType: rec.Header().Get("Content-Type"),
		Body:        rec.body.Bytes(),
	})
	if err != nil {
		m.logError(ctx, "marshal idempotency record", err)
		return
	}
	if err := m.store.Set(ctx, key, string(payload), ttl); err != nil {
		m.logError(ctx, "persist idempotency record", err)
	}
}

func (m *Idempotency) logError(ctx context.Context, msg string, err error) {
	if m.logg != nil {
		m.logg.Error(ctx, msg, err)
	}
}

// requestScope binds a key to the caller and the concrete path so the same
// client key on two requests never collides.
func requestScope(r *http.Request) string {
	ctx := r.Context()
	return strings.Join([]string{
		string(RoleFromContext(ctx)),
		ActorIDFromContext(ctx).String(),
		r.Method,
		r.URL.Path,
	}, "|")
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusOrOK() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
