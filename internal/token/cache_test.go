package token

import (
	"context"
	"errors"
	"testing"
)

func TestSyncKVCacheIdempotentWhenClean(t *testing.T) {
	a := newFakeAdapter(8)
	b := newBuffer()
	c := newCacheCoordinator(a)

	if err := c.syncKVCache(context.Background(), b); err != nil {
		t.Fatalf("sync: %v", err)
	}
	clears := a.cacheClears
	if err := c.syncKVCache(context.Background(), b); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if a.cacheClears != clears {
		t.Fatalf("second sync should be a no-op, clears went from %d to %d", clears, a.cacheClears)
	}
}

func TestSyncKVCacheDecodesOnDirty(t *testing.T) {
	a := newFakeAdapter(8)
	b := newBuffer()
	b.insertAt(0, []Token{1, 2, 3}, 0)
	c := newCacheCoordinator(a)

	if !b.dirty {
		t.Fatal("buffer should be dirty after insert")
	}
	if err := c.syncKVCache(context.Background(), b); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if b.dirty || !b.logitsValid {
		t.Fatalf("after sync: dirty=%v logitsValid=%v", b.dirty, b.logitsValid)
	}
	if len(a.decoded) != 3 {
		t.Fatalf("decoded %d tokens, want 3", len(a.decoded))
	}
}

func TestSyncKVCacheSurfacesAdapterFailureAsKvCacheFull(t *testing.T) {
	a := newFakeAdapter(8)
	a.decodeErr = errors.New("boom")
	b := newBuffer()
	b.insertAt(0, []Token{1}, 0)
	c := newCacheCoordinator(a)

	err := c.syncKVCache(context.Background(), b)
	if !errors.Is(err, ErrKvCacheFull) {
		t.Fatalf("err = %v, want ErrKvCacheFull", err)
	}
	if !b.dirty {
		t.Fatal("buffer should remain dirty after a failed sync")
	}
}
