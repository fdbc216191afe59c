package genstore

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLocalMissingIsZero(t *testing.T) {
	ctx := context.Background()
	s := NewLocal(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	g, err := s.Current(ctx, "entry:ARTIFACT_ENTRIES:s/r/a.jar")
	if err != nil {
		t.Fatal(err)
	}
	if g != 0 {
		t.Fatalf("got %d want 0", g)
	}
}

func TestLocalBumpConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewLocal(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Bump(ctx, "k"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	g, _ := s.Current(ctx, "k")
	if g != 50 {
		t.Fatalf("got %d want 50", g)
	}
}

func TestLocalPruneDropsOld(t *testing.T) {
	ctx := context.Background()
	s := NewLocal(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	now := time.Now()
	s.now = func() time.Time { return now }
	if _, err := s.Bump(ctx, "old"); err != nil {
		t.Fatal(err)
	}
	now = now.Add(time.Hour)
	if _, err := s.Bump(ctx, "fresh"); err != nil {
		t.Fatal(err)
	}

	s.Prune(time.Minute)

	if g, _ := s.Current(ctx, "old"); g != 0 {
		t.Fatalf("expected pruned -> 0, got %d", g)
	}
	if g, _ := s.Current(ctx, "fresh"); g != 1 {
		t.Fatalf("fresh gen lost, got %d", g)
	}
	if s.Len() != 1 {
		t.Fatalf("len=%d want 1", s.Len())
	}
}

func TestLocalCloseIdempotent(t *testing.T) {
	s := NewLocal(time.Millisecond, time.Minute)
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
}
