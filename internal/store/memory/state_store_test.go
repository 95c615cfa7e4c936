package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestIdempotencyStore_MarkProcessed(t *testing.T) {
	s := NewIdempotencyStore()
	ctx := context.Background()

	first, err := s.MarkProcessed(ctx, "msg-1", time.Minute)
	if err != nil {
		t.Fatalf("MarkProcessed error: %v", err)
	}
	if !first {
		t.Error("Expected first MarkProcessed to report a new key")
	}

	again, err := s.MarkProcessed(ctx, "msg-1", time.Minute)
	if err != nil {
		t.Fatalf("MarkProcessed error: %v", err)
	}
	if again {
		t.Error("Expected duplicate key to be reported as seen")
	}

	other, _ := s.MarkProcessed(ctx, "msg-2", time.Minute)
	if !other {
		t.Error("Expected a different key to be new")
	}
}

func TestIdempotencyStore_Expiration(t *testing.T) {
	now := time.Now()
	s := NewIdempotencyStore()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _ := s.MarkProcessed(ctx, "msg-1", time.Second); !ok {
		t.Fatal("Expected key to be new")
	}

	now = now.Add(2 * time.Second)

	ok, err := s.MarkProcessed(ctx, "msg-1", time.Second)
	if err != nil {
		t.Fatalf("MarkProcessed error: %v", err)
	}
	if !ok {
		t.Error("Key should be new again after expiry")
	}
}

func TestIdempotencyStore_Forget(t *testing.T) {
	s := NewIdempotencyStore()
	ctx := context.Background()

	_, _ = s.MarkProcessed(ctx, "msg-1", time.Minute)
	if err := s.Forget(ctx, "msg-1"); err != nil {
		t.Fatalf("Forget error: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
	if ok, _ := s.MarkProcessed(ctx, "msg-1", time.Minute); !ok {
		t.Error("Forgotten key should be new")
	}
}

func TestIdempotencyStore_ConcurrentMark(t *testing.T) {
	s := NewIdempotencyStore()
	ctx := context.Background()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.MarkProcessed(ctx, "msg-1", time.Minute); ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if winners.Load() != 1 {
		t.Errorf("winners = %d, want 1", winners.Load())
	}
}
