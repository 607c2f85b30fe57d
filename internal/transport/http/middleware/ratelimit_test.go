package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"payrun/internal/domain/payroll"
)

func TestRateLimitUsesActorKeyBeforeIPFallback(t *testing.T) {
	limited := RateLimit(1, time.Minute, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	actor := payroll.Actor{UserID: "user-1", Role: payroll.RoleFinance}

	first := httptest.NewRequest(http.MethodPost, "/api/v1/payroll/runs/r1/lock", nil)
	first = first.WithContext(WithActor(first.Context(), actor))
	first.RemoteAddr = "198.51.100.11:2222"
	firstRec := httptest.NewRecorder()
	limited.ServeHTTP(firstRec, first)
	if firstRec.Code != http.StatusNoContent {
		t.Fatalf("expected first request to pass, got %d", firstRec.Code)
	}

	second := httptest.NewRequest(http.MethodPost, "/api/v1/payroll/runs/r1/lock", nil)
	second = second.WithContext(WithActor(second.Context(), actor))
	second.RemoteAddr = "198.51.100.12:3333"
	secondRec := httptest.NewRecorder()
	limited.ServeHTTP(secondRec, second)
	if secondRec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be throttled by actor key, got %d", secondRec.Code)
	}
	if secondRec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestRateLimitFallsBackToIPAndSkipsReads(t *testing.T) {
	limited := RateLimit(1, time.Minute, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/payroll/runs", nil)
		req.RemoteAddr = "203.0.113.10:4444"
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("reads must not be limited, got %d", rec.Code)
		}
	}

	codes := []int{}
	for _, port := range []string{"4444", "5555"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payroll/generate-draft", nil)
		req.RemoteAddr = "203.0.113.10:" + port
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected IP based throttling, got %v", codes)
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.2")
	if got := ClientIP(req); got != "203.0.113.7" {
		t.Fatalf("expected forwarded address, got %q", got)
	}
}

func TestRateLimitIgnoresForwardedForWhenKeying(t *testing.T) {
	limited := RateLimit(1, time.Minute, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := []int{}
	for _, forwarded := range []string{"192.0.2.1", "192.0.2.2"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payroll/generate-draft", nil)
		req.RemoteAddr = "203.0.113.20:4444"
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected forwarded header to be ignored, got %v", codes)
	}
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	rl := newRateLimiter(2, time.Minute, zap.NewNop())
	now := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payroll/generate-draft", nil)
		req.RemoteAddr = "198.51.100." + strconv.Itoa(i) + ":1000"
		if !rl.enforce(httptest.NewRecorder(), req) {
			t.Fatalf("first request from client %d must pass", i)
		}
	}
	if got := rl.size(); got != 50 {
		t.Fatalf("expected 50 tracked clients, got %d", got)
	}

	now = now.Add(2 * time.Minute)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payroll/generate-draft", nil)
	req.RemoteAddr = "198.51.100.200:1000"
	rec := httptest.NewRecorder()
	if !rl.enforce(rec, req) {
		t.Fatal("expected request to pass")
	}
	if got := rl.size(); got != 1 {
		t.Fatalf("expected idle clients to be evicted, got %d tracked", got)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "1" {
		t.Fatalf("expected one remaining token, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}
