package token

// initialCapacityFloor is the smallest capacity a buffer ever holds,
// matching the reference implementation's TE_DEFAULT_CAPACITY.
const initialCapacityFloor = 4096

// buffer is the growable, invariant-preserving token sequence described in
// SPEC_FULL.md §3: 0 <= n <= cap(tokens), capacity is a power of two grown by
// doubling, and every defined position keeps tokens[i] in sync with
// info[i].ID / info[i].Pos.
type buffer struct {
	tokens      []Token
	info        []Info
	dirty       bool
	logitsValid bool
}

func newBuffer() *buffer {
	b := &buffer{
		tokens: make([]Token, 0, initialCapacityFloor),
		info:   make([]Info, 0, initialCapacityFloor),
	}
	return b
}

func (b *buffer) count() int { return len(b.tokens) }

// ensureCapacity grows the backing arrays by doubling until they can hold n
// total tokens, never shrinking below initialCapacityFloor.
func (b *buffer) ensureCapacity(n int) {
	if cap(b.tokens) >= n {
		return
	}
	newCap := cap(b.tokens)
	if newCap < initialCapacityFloor {
		newCap = initialCapacityFloor
	}
	for newCap < n {
		newCap *= 2
	}
	grownTokens := make([]Token, len(b.tokens), newCap)
	copy(grownTokens, b.tokens)
	b.tokens = grownTokens

	grownInfo := make([]Info, len(b.info), newCap)
	copy(grownInfo, b.info)
	b.info = grownInfo
}

func (b *buffer) markDirty() {
	b.dirty = true
	b.logitsValid = false
}

// insertAt shifts the tail right and splices toks into [pos, pos+len(toks)).
// pos must already be validated to lie in [0, n_tokens].
func (b *buffer) insertAt(pos Position, toks []Token, flags Flag) {
	n := len(toks)
	if n == 0 {
		return
	}
	oldLen := b.count()
	b.ensureCapacity(oldLen + n)
	b.tokens = b.tokens[:oldLen+n]
	b.info = b.info[:oldLen+n]

	copy(b.tokens[int(pos)+n:], b.tokens[int(pos):oldLen])
	copy(b.info[int(pos)+n:], b.info[int(pos):oldLen])

	for i := 0; i < n; i++ {
		idx := int(pos) + i
		b.tokens[idx] = toks[i]
		b.info[idx] = Info{ID: toks[i], Pos: Position(idx), Seq: DefaultSeq, Flags: flags}
	}
	b.renumber(int(pos) + n)
	b.markDirty()
}

// deleteRange removes [start, end) and shifts the tail left, returning both
// the removed tokens and their original per-token flags so a later undo can
// restore provenance bits instead of re-stamping them. start/end must
// already be clamped into [0, n_tokens].
func (b *buffer) deleteRange(start, end Position) ([]Token, []Flag) {
	if end <= start {
		return nil, nil
	}
	removed := append([]Token(nil), b.tokens[start:end]...)
	removedFlags := make([]Flag, end-start)
	for i := range removedFlags {
		removedFlags[i] = b.info[int(start)+i].Flags
	}
	n := int(end - start)
	copy(b.tokens[start:], b.tokens[end:])
	copy(b.info[start:], b.info[end:])
	b.tokens = b.tokens[:b.count()-n]
	b.info = b.info[:len(b.info)-n]
	b.renumber(int(start))
	b.markDirty()
	return removed, removedFlags
}

// replaceRange deletes [start, end) and then inserts toks at start, so the
// tail is shifted twice (once per step), returning the tokens that were
// overwritten and their original per-token flags.
func (b *buffer) replaceRange(start, end Position, toks []Token, flags Flag) ([]Token, []Flag) {
	old, oldFlags := b.deleteRange(start, end)
	b.insertAt(start, toks, flags)
	return old, oldFlags
}

// replaceRangeFlags is replaceRange with a per-token flag for each inserted
// token, used to restore a replaced range's original provenance on undo.
func (b *buffer) replaceRangeFlags(start, end Position, toks []Token, flags []Flag) ([]Token, []Flag) {
	old, oldFlags := b.deleteRange(start, end)
	b.insertAtFlags(start, toks, flags)
	return old, oldFlags
}

// insertAtFlags is insertAt with a per-token flag for each inserted token,
// used to restore the exact flags an undo is reviving instead of stamping
// every restored token with the same flag.
func (b *buffer) insertAtFlags(pos Position, toks []Token, flags []Flag) {
	n := len(toks)
	if n == 0 {
		return
	}
	oldLen := b.count()
	b.ensureCapacity(oldLen + n)
	b.tokens = b.tokens[:oldLen+n]
	b.info = b.info[:oldLen+n]

	copy(b.tokens[int(pos)+n:], b.tokens[int(pos):oldLen])
	copy(b.info[int(pos)+n:], b.info[int(pos):oldLen])

	for i := 0; i < n; i++ {
		idx := int(pos) + i
		b.tokens[idx] = toks[i]
		b.info[idx] = Info{ID: toks[i], Pos: Position(idx), Seq: DefaultSeq, Flags: flags[i]}
	}
	b.renumber(int(pos) + n)
	b.markDirty()
}

// renumber fixes info[i].Pos for every position at or after from, needed
// after any shift changes what lives where.
func (b *buffer) renumber(from int) {
	for i := from; i < len(b.info); i++ {
		b.info[i].Pos = Position(i)
		b.info[i].ID = b.tokens[i]
	}
}

func (b *buffer) clear() []Token {
	toks, _ := b.deleteRange(0, Position(b.count()))
	return toks
}
