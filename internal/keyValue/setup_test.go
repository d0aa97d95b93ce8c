package keyValue

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	s := New(zap.NewNop().Sugar(), nil)

	if err := s.Set(ctx, "user_exists:1", "y", time.Minute); err != nil {
		t.Fatal(err)
	}

	value, err := s.Get(ctx, "user_exists:1")
	if err != nil {
		t.Fatal(err)
	}
	if value != "y" {
		t.Errorf("Get got %q, want %q", value, "y")
	}

	if err := s.Del(ctx, "user_exists:1"); err != nil {
		t.Fatal(err)
	}

	value, err = s.Get(ctx, "user_exists:1")
	if err != nil {
		t.Fatal(err)
	}
	if value != "" {
		t.Errorf("Get after Del got %q, want empty", value)
	}
}

func TestLocalStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := New(zap.NewNop().Sugar(), nil)

	if err := s.Set(ctx, "short", "v", -time.Second); err != nil {
		t.Fatal(err)
	}

	value, err := s.Get(ctx, "short")
	if err != nil {
		t.Fatal(err)
	}
	if value != "" {
		t.Errorf("expired key returned %q", value)
	}

	s.sweep(time.Now())
	if _, ok := s.hashmap["short"]; ok {
		t.Error("sweep left an expired key behind")
	}
}

func TestSetIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := New(zap.NewNop().Sugar(), nil)

	stored, err := s.SetIfAbsent(ctx, "webhook:msg_1", "1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !stored {
		t.Error("first SetIfAbsent should store the value")
	}

	stored, err = s.SetIfAbsent(ctx, "webhook:msg_1", "1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if stored {
		t.Error("second SetIfAbsent should not store the value")
	}
}
