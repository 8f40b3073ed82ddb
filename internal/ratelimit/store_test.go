package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreSetSortsAndCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Unix(1000, 0)

	in := []time.Time{base.Add(2 * time.Second), base}
	if err := s.Set(ctx, "k", in, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	in[0] = base.Add(time.Hour)

	got, _ := s.Get(ctx, "k")
	if len(got) != 2 || !got[0].Equal(base) || !got[1].Equal(base.Add(2*time.Second)) {
		t.Fatalf("unexpected stamps %v", got)
	}

	got[0] = time.Time{}
	again, _ := s.Get(ctx, "k")
	if !again[0].Equal(base) {
		t.Fatalf("Get must return a copy")
	}
}

func TestMemoryStorePruneBoundary(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Unix(1000, 0)

	_ = s.Set(ctx, "edge", []time.Time{base}, 0)
	_ = s.Set(ctx, "live", []time.Time{base.Add(time.Millisecond)}, 0)

	removed, err := s.Prune(ctx, base)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 || s.Len() != 1 {
		t.Fatalf("removed=%d len=%d, want 1 and 1", removed, s.Len())
	}
}

func TestMemoryStoreEmptySetDeletes(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Set(ctx, "k", []time.Time{time.Now()}, 0)
	_ = s.Set(ctx, "k", nil, 0)
	if s.Len() != 0 {
		t.Fatalf("expected key removed")
	}
}
