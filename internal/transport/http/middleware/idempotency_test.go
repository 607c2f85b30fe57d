package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"payrun/internal/domain/payroll"
	"payrun/internal/platform/cache"
)

type memIdempotency struct {
	mu        sync.Mutex
	responses map[string]cache.StoredResponse
	locks     map[string]bool
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{responses: map[string]cache.StoredResponse{}, locks: map[string]bool{}}
}

func (m *memIdempotency) Get(_ context.Context, key string) (cache.StoredResponse, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp, ok := m.responses[key]
	return resp, ok, nil
}

func (m *memIdempotency) Lock(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] {
		return false, nil
	}
	m.locks[key] = true
	return true, nil
}

func (m *memIdempotency) Unlock(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, key)
	return nil
}

func (m *memIdempotency) Save(_ context.Context, key string, response cache.StoredResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[key] = response
	return nil
}

func TestRequestHashDeterministic(t *testing.T) {
	assert.Equal(t, RequestHash([]byte("payload")), RequestHash([]byte("payload")))
	assert.NotEqual(t, RequestHash([]byte("payload")), RequestHash([]byte("other")))
}

func idempotentRequest(body, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payroll/generate-draft", strings.NewReader(body))
	req.Header.Set(HeaderIdempotencyKey, key)
	return req.WithContext(WithActor(req.Context(), payroll.Actor{UserID: "spec-1", Role: payroll.RoleSpecialist}))
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	store := newMemIdempotency()
	calls := 0
	handler := Idempotency(store, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":true,"data":{"payrollRunId":"run-1"}}` + "\n"))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, idempotentRequest(`{"entity":"acme"}`, "k1"))
	require.Equal(t, http.StatusCreated, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, idempotentRequest(`{"entity":"acme"}`, "k1"))
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, `{"success":true,"data":{"payrollRunId":"run-1"}}`, second.Body.String())
	assert.Equal(t, 1, calls)
	assert.Empty(t, store.locks)
}

func TestIdempotencyRejectsDifferentPayload(t *testing.T) {
	store := newMemIdempotency()
	handler := Idempotency(store, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(`{"entity":"acme"}`, "k1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, idempotentRequest(`{"entity":"other"}`, "k1"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "idempotency_conflict")
}

func TestIdempotencyRejectsInFlightDuplicate(t *testing.T) {
	store := newMemIdempotency()
	_, _ = store.Lock(context.Background(), "idemp:/api/v1/payroll/generate-draft:spec-1:k1")

	handler := Idempotency(store, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run while the key is locked")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, idempotentRequest(`{}`, "k1"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestIdempotencyDoesNotStoreServerErrors(t *testing.T) {
	store := newMemIdempotency()
	calls := 0
	handler := Idempotency(store, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false}`))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(`{}`, "k1"))
	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(`{}`, "k1"))
	assert.Equal(t, 2, calls)
	assert.Empty(t, store.responses)
}

func TestIdempotencyPassesThroughWithoutKey(t *testing.T) {
	calls := 0
	handler := Idempotency(nil, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, 1, calls)
}

// finishFirstOnLock completes a concurrent first request just before the
// second one takes the lock.
type finishFirstOnLock struct {
	*memIdempotency
	first cache.StoredResponse
}

func (f *finishFirstOnLock) Lock(ctx context.Context, key string) (bool, error) {
	if err := f.Save(ctx, key, f.first); err != nil {
		return false, err
	}
	return f.memIdempotency.Lock(ctx, key)
}

func TestIdempotencyReplaysResponseSavedBeforeLock(t *testing.T) {
	store := &finishFirstOnLock{
		memIdempotency: newMemIdempotency(),
		first: cache.StoredResponse{
			RequestHash: RequestHash([]byte(`{"entity":"acme"}`)),
			Status:      http.StatusCreated,
			Body:        []byte(`{"success":true,"data":{"payrollRunId":"run-1"}}`),
		},
	}
	handler := Idempotency(store, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run again once the first response is saved")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, idempotentRequest(`{"entity":"acme"}`, "k1"))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, `{"success":true,"data":{"payrollRunId":"run-1"}}`, rec.Body.String())
	assert.Empty(t, store.locks)
}
