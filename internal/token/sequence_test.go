package token

import "testing"

func TestSequenceRegistryCreateReturnsMaxPlusOne(t *testing.T) {
	r := newSequenceRegistry()
	if got := r.create(); got != 1 {
		t.Fatalf("create = %v, want 1", got)
	}
	if got := r.create(); got != 2 {
		t.Fatalf("create = %v, want 2", got)
	}
}

func TestSequenceRegistryDeleteUnknown(t *testing.T) {
	r := newSequenceRegistry()
	if err := r.delete(99, nil); err != ErrSequenceNotFound {
		t.Fatalf("err = %v, want ErrSequenceNotFound", err)
	}
}

func TestSequenceRegistryForkMirrorsToAdapter(t *testing.T) {
	r := newSequenceRegistry()
	a := newFakeAdapter(8)
	dst, err := r.fork(DefaultSeq, a)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if dst != 1 {
		t.Fatalf("dst = %v, want 1", dst)
	}
	if !r.has(dst) {
		t.Fatal("forked sequence not registered")
	}
}
