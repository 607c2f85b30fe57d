package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestIdempotencyStoreIntegration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := Connect(ctx, addr, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	store := NewIdempotencyStore(client, time.Minute)
	key := "idemp:test:" + uuid.NewString()
	defer client.Del(ctx, key, key+":lock")

	if _, ok, err := store.Get(ctx, key); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	locked, err := store.Lock(ctx, key)
	if err != nil || !locked {
		t.Fatalf("expected first lock, got %v %v", locked, err)
	}
	again, err := store.Lock(ctx, key)
	if err != nil || again {
		t.Fatalf("expected second lock to fail, got %v %v", again, err)
	}

	want := StoredResponse{RequestHash: "abc", Status: 201, Body: []byte(`{"success":true}`)}
	if err := store.Save(ctx, key, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Unlock(ctx, key); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	got, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.Status != 201 || got.RequestHash != "abc" || string(got.Body) != `{"success":true}` {
		t.Fatalf("unexpected stored response %+v", got)
	}
}
