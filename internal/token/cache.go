package token

import "context"

// cacheCoordinator maps logical buffer edits onto attention-cache
// invalidation and lazy re-decode (SPEC_FULL.md §4.5). The cache is coherent
// with the buffer iff !buf.dirty; any mutator sets dirty and clears
// logitsValid; syncKVCache, decodeOne and a successful snapshot restore
// clear dirty again.
type cacheCoordinator struct {
	adapter Adapter
}

func newCacheCoordinator(adapter Adapter) *cacheCoordinator {
	return &cacheCoordinator{adapter: adapter}
}

// syncKVCache is idempotent when the buffer is already clean; otherwise it
// clears the adapter's cache and performs a single batch decode of every
// token with logits requested only on the final position.
func (c *cacheCoordinator) syncKVCache(ctx context.Context, b *buffer) error {
	if !b.dirty {
		return nil
	}
	if c.adapter == nil {
		b.dirty = false
		b.logitsValid = true
		return nil
	}
	if err := c.adapter.CacheClear(AllSeqs); err != nil {
		return ErrKvCacheFull
	}
	n := b.count()
	if n == 0 {
		b.dirty = false
		b.logitsValid = true
		return nil
	}
	batch := Batch{
		Tokens:   make([]Token, n),
		Pos:      make([]Position, n),
		Seqs:     make([]SeqID, n),
		LogitsAt: n - 1,
	}
	for i := 0; i < n; i++ {
		batch.Tokens[i] = b.tokens[i]
		batch.Pos[i] = Position(i)
		batch.Seqs[i] = b.info[i].Seq
	}
	if err := c.adapter.Decode(ctx, batch); err != nil {
		return ErrKvCacheFull
	}
	b.dirty = false
	b.logitsValid = true
	return nil
}

// decodeOne advances the cache by exactly one already-appended token,
// keeping it coherent without a full re-decode. Used by the generation
// driver after each sampled token.
func (c *cacheCoordinator) decodeOne(ctx context.Context, b *buffer, pos Position) error {
	if c.adapter == nil {
		b.dirty = false
		b.logitsValid = true
		return nil
	}
	batch := Batch{
		Tokens:   []Token{b.tokens[pos]},
		Pos:      []Position{pos},
		Seqs:     []SeqID{b.info[pos].Seq},
		LogitsAt: 0,
	}
	if err := c.adapter.Decode(ctx, batch); err != nil {
		return ErrKvCacheFull
	}
	b.dirty = false
	b.logitsValid = true
	return nil
}

func (c *cacheCoordinator) invalidateRange(seq SeqID, start, end Position) error {
	if c.adapter == nil {
		return nil
	}
	return c.adapter.CacheRemove(seq, start, end)
}

func (c *cacheCoordinator) clear(seq SeqID) error {
	if c.adapter == nil {
		return nil
	}
	return c.adapter.CacheClear(seq)
}

func (c *cacheCoordinator) shift(seq SeqID, start, end Position, delta int32) error {
	if c.adapter == nil {
		return nil
	}
	return c.adapter.CacheShift(seq, start, end, delta)
}
