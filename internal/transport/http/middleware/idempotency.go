package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"go.uber.org/zap"

	"payrun/internal/platform/cache"
	"payrun/internal/transport/http/api"
)

const HeaderIdempotencyKey = "Idempotency-Key"

// IdempotencyStore keeps finished responses and short-lived in-flight locks.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (cache.StoredResponse, bool, error)
	Lock(ctx context.Context, key string) (bool, error)
	Unlock(ctx context.Context, key string) error
	Save(ctx context.Context, key string, response cache.StoredResponse) error
}

func RequestHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

type bodyRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (b *bodyRecorder) WriteHeader(code int) {
	b.status = code
	b.ResponseWriter.WriteHeader(code)
}

func (b *bodyRecorder) Write(p []byte) (int, error) {
	b.body.Write(p)
	return b.ResponseWriter.Write(p)
}

// Idempotency replays the stored response for a repeated POST carrying the
// same Idempotency-Key. A key reused with a different body is rejected, and
// a key whose first request is still running gets 409.
func Idempotency(store IdempotencyStore, logger *zap.Logger) func(http.Handler) http.Handler {
	log := logger.Named("idempotency")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idempKey := r.Header.Get(HeaderIdempotencyKey)
			if store == nil || idempKey == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			requestID := GetRequestID(ctx)

			body, err := io.ReadAll(r.Body)
			if err != nil {
				api.Fail(w, http.StatusBadRequest, "invalid_payload", "unable to read request body", requestID)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			hash := RequestHash(body)

			userID := "anonymous"
			if actor, ok := GetActor(ctx); ok {
				userID = actor.UserID
			}
			cacheKey := "idemp:" + r.URL.Path + ":" + userID + ":" + idempKey

			if replayStored(ctx, w, store, cacheKey, hash, requestID, log) {
				return
			}

			locked, err := store.Lock(ctx, cacheKey)
			if err != nil {
				log.Error("idempotency lock failed", zap.String("key", cacheKey), zap.Error(err))
				api.Fail(w, http.StatusServiceUnavailable, "idempotency_unavailable", "idempotency store unavailable", requestID)
				return
			}
			if !locked {
				api.Fail(w, http.StatusConflict, "request_in_progress", "a request with this idempotency key is still being processed", requestID)
				return
			}
			defer func() {
				if err := store.Unlock(context.WithoutCancel(ctx), cacheKey); err != nil {
					log.Warn("idempotency unlock failed", zap.String("key", cacheKey), zap.Error(err))
				}
			}()

			// The first request may have saved and unlocked between the lookup and the lock.
			if replayStored(ctx, w, store, cacheKey, hash, requestID, log) {
				return
			}

			recorder := &bodyRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			// Server errors are not remembered so the caller can retry.
			if recorder.status >= http.StatusInternalServerError {
				return
			}
			response := cache.StoredResponse{RequestHash: hash, Status: recorder.status, Body: bytes.TrimSpace(recorder.body.Bytes())}
			if err := store.Save(context.WithoutCancel(ctx), cacheKey, response); err != nil {
				log.Warn("idempotency save failed", zap.String("key", cacheKey), zap.Int("status", recorder.status), zap.Error(err))
			}
		})
	}
}

// replayStored writes the saved response for key and reports whether the
// request has been answered.
func replayStored(ctx context.Context, w http.ResponseWriter, store IdempotencyStore, key, hash, requestID string, log *zap.Logger) bool {
	stored, found, err := store.Get(ctx, key)
	if err != nil {
		log.Error("idempotency lookup failed", zap.String("key", key), zap.Error(err))
		api.Fail(w, http.StatusServiceUnavailable, "idempotency_unavailable", "idempotency store unavailable", requestID)
		return true
	}
	if !found {
		return false
	}
	if stored.RequestHash != hash {
		api.Fail(w, http.StatusUnprocessableEntity, "idempotency_conflict", "idempotency key reused with a different payload", requestID)
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
	return true
}
