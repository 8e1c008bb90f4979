package token

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Editor is the Token Editor façade (SPEC_FULL.md §4.1): it assembles the
// buffer, edit log, snapshot manager, sequence registry, and cache
// coordinator into one addressable object.
type Editor struct {
	buf       *buffer
	log       *editLog
	seqs      *sequenceRegistry
	cache     *cacheCoordinator
	adapter   Adapter
	readonly  bool
	callbacks Callbacks
}

// NewEditor creates an empty editor bound to adapter. adapter may be nil, in
// which case cache coordination is a no-op and the buffer behaves as a pure
// in-memory sequence — useful for tests that only exercise buffer/edit-log
// semantics.
func NewEditor(adapter Adapter) *Editor {
	return &Editor{
		buf:     newBuffer(),
		log:     newEditLog(),
		seqs:    newSequenceRegistry(),
		cache:   newCacheCoordinator(adapter),
		adapter: adapter,
	}
}

// SetReadonly toggles the read-only flag. While set, the buffer edits
// (SetToken, InsertTokens, DeleteTokens, ReplaceTokens, ReplaceText, Clear),
// Undo, Redo, RestoreSnapshot and ImportBinary fail with ErrReadonly.
// AppendGenerated and the sequence and cache calls are not checked.
func (e *Editor) SetReadonly(ro bool) { e.readonly = ro }

// SetHistoryLimit configures the soft bound on edit log depth. 0 means
// unbounded.
func (e *Editor) SetHistoryLimit(n int) {
	e.log.limit = n
	e.log.trim()
}

// Callbacks fire on editor mutation; any may be nil.
type Callbacks struct {
	OnTokenChange func(pos Position, old, new Token)
	OnRangeChange func(r Range)
}

// SetCallbacks installs the observable-side-effect channel described in
// SPEC_FULL.md §7 — editors themselves never print.
func (e *Editor) SetCallbacks(cb Callbacks) { e.callbacks = cb }

func (e *Editor) checkWritable() error {
	if e.readonly {
		return ErrReadonly
	}
	return nil
}

// GetToken returns the token at pos, or NoToken if out of range. Pure read.
func (e *Editor) GetToken(pos Position) Token {
	if pos < 0 || int(pos) >= e.buf.count() {
		return NoToken
	}
	return e.buf.tokens[pos]
}

// GetTokenInfo fills out with the metadata at pos, recomputing flags from
// the current adapter vocabulary.
func (e *Editor) GetTokenInfo(pos Position) (Info, error) {
	if pos < 0 || int(pos) >= e.buf.count() {
		return Info{}, ErrInvalidPosition
	}
	info := e.buf.info[pos]
	if e.adapter != nil {
		attrs := e.adapter.TokenAttributes(info.ID)
		info.Flags &^= FlagBOS | FlagEOS | FlagSpecial | FlagControl
		if e.adapter.IsBOS(info.ID) {
			info.Flags |= FlagBOS
		}
		if e.adapter.IsEOG(info.ID) {
			info.Flags |= FlagEOS
		}
		if attrs.Special {
			info.Flags |= FlagSpecial
		}
		if attrs.Control {
			info.Flags |= FlagControl
		}
	}
	return info, nil
}

// GetTokens copies [start, min(end, n_tokens)) into out, clamping a
// negative start to 0, and returns the number of tokens copied.
func (e *Editor) GetTokens(r Range, out []Token) (int, error) {
	start := r.Start
	if start < 0 {
		start = 0
	}
	end := r.End
	if int(end) > e.buf.count() {
		end = Position(e.buf.count())
	}
	if end <= start {
		return 0, nil
	}
	need := int(end - start)
	if len(out) < need {
		return need, ErrBufferTooSmall
	}
	copy(out, e.buf.tokens[start:end])
	return need, nil
}

// GetTokenCount returns the number of tokens currently held. The buffer is
// a single logical stream, so seq is accepted but ignored.
func (e *Editor) GetTokenCount(_ SeqID) int { return e.buf.count() }

func (e *Editor) requireAdapter() error {
	if e.adapter == nil {
		return fmt.Errorf("token: no model adapter configured: %w", ErrInvalidContext)
	}
	return nil
}

// Tokenize forwards to the Model Adapter.
func (e *Editor) Tokenize(text string, addBOS bool) ([]Token, error) {
	if err := e.requireAdapter(); err != nil {
		return nil, err
	}
	return e.adapter.Tokenize(text, addBOS)
}

// Detokenize concatenates the per-token pieces for toks.
func (e *Editor) Detokenize(toks []Token) (string, error) {
	if err := e.requireAdapter(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	for _, t := range toks {
		piece, err := e.adapter.DetokenizePiece(t)
		if err != nil {
			return "", err
		}
		buf.Write(piece)
	}
	return buf.String(), nil
}

// SetToken bounds-checks pos, records a single-token Replace, overwrites,
// marks the buffer dirty, and fires OnTokenChange.
func (e *Editor) SetToken(pos Position, tok Token) error {
	if err := e.checkWritable(); err != nil {
		return err
	}
	if pos < 0 || int(pos) >= e.buf.count() {
		return ErrInvalidPosition
	}
	old := e.buf.tokens[pos]
	r := Range{Start: pos, End: pos + 1}
	_, oldFlags := e.buf.replaceRange(pos, pos+1, []Token{tok}, FlagUserInjected)
	e.log.record(EditOp{
		Kind:      OpReplace,
		Source:    r,
		Dest:      r,
		OldTokens: []Token{old},
		OldFlags:  oldFlags,
		NewTokens: []Token{tok},
	})
	if e.callbacks.OnTokenChange != nil {
		e.callbacks.OnTokenChange(pos, old, tok)
	}
	return nil
}

// InsertTokens accepts pos in [0, n_tokens], grows capacity as needed,
// shifts the tail, and records an Insert. Inserting an empty payload is a
// no-op success.
func (e *Editor) InsertTokens(pos Position, toks []Token) error {
	if err := e.checkWritable(); err != nil {
		return err
	}
	if pos < 0 || int(pos) > e.buf.count() {
		return ErrInvalidPosition
	}
	if len(toks) == 0 {
		return nil
	}
	e.buf.insertAt(pos, toks, FlagUserInjected)
	r := Range{Start: pos, End: pos + Position(len(toks))}
	e.log.record(EditOp{Kind: OpInsert, Source: r, Dest: r, NewTokens: append([]Token(nil), toks...)})
	if e.callbacks.OnRangeChange != nil {
		e.callbacks.OnRangeChange(r)
	}
	return nil
}

// DeleteTokens clamps r into the buffer; an empty resulting range is a
// no-op success. The removed tokens are preserved in the edit log.
func (e *Editor) DeleteTokens(r Range) error {
	if err := e.checkWritable(); err != nil {
		return err
	}
	start, end := clampRange(r, e.buf.count())
	if end <= start {
		return nil
	}
	removed, removedFlags := e.buf.deleteRange(start, end)
	e.log.record(EditOp{
		Kind:      OpDelete,
		Source:    Range{Start: start, End: end},
		OldTokens: removed,
		OldFlags:  removedFlags,
	})
	if e.callbacks.OnRangeChange != nil {
		e.callbacks.OnRangeChange(Range{Start: start, End: start})
	}
	return nil
}

// ReplaceTokens is equivalent to delete+insert but recorded as a single
// Replace whose OldTokens is the prior content and NewTokens is what was
// actually written.
func (e *Editor) ReplaceTokens(r Range, toks []Token) error {
	if err := e.checkWritable(); err != nil {
		return err
	}
	start, end := clampRange(r, e.buf.count())
	old, oldFlags := e.buf.replaceRange(start, end, toks, FlagUserInjected)
	newEnd := start + Position(len(toks))
	e.log.record(EditOp{
		Kind:      OpReplace,
		Source:    Range{Start: start, End: end},
		Dest:      Range{Start: start, End: newEnd},
		OldTokens: old,
		OldFlags:  oldFlags,
		NewTokens: append([]Token(nil), toks...),
	})
	if e.callbacks.OnRangeChange != nil {
		e.callbacks.OnRangeChange(Range{Start: start, End: newEnd})
	}
	return nil
}

// ReplaceText tokenizes text and replaces r with the result.
func (e *Editor) ReplaceText(r Range, text string) error {
	toks, err := e.Tokenize(text, false)
	if err != nil {
		return err
	}
	return e.ReplaceTokens(r, toks)
}

// Clear removes every token and drops seq's attention-cache entries. The
// buffer itself has no per-sequence storage (GetTokenCount ignores seq the
// same way), but the adapter's KV cache is multiplexed by sequence, so seq
// still selects what gets invalidated there.
func (e *Editor) Clear(seq SeqID) error {
	if err := e.DeleteTokens(Range{Start: 0, End: Position(e.buf.count())}); err != nil {
		return err
	}
	return e.cache.clear(seq)
}

func clampRange(r Range, n int) (Position, Position) {
	start := r.Start
	if start < 0 {
		start = 0
	}
	end := r.End
	if int(end) > n {
		end = Position(n)
	}
	if start > Position(n) {
		start = Position(n)
	}
	return start, end
}

// Undo pops the most recent edit log entry and replays its inverse with
// recording suppressed, pushing it onto the redo stack.
func (e *Editor) Undo() error {
	if err := e.checkWritable(); err != nil {
		return err
	}
	op, ok := e.log.popUndo()
	if !ok {
		return nil
	}
	e.log.suppress = true
	switch op.Kind {
	case OpInsert:
		e.buf.deleteRange(op.Source.Start, op.Source.End)
	case OpDelete:
		e.buf.insertAtFlags(op.Source.Start, op.OldTokens, op.OldFlags)
	case OpReplace:
		e.buf.replaceRangeFlags(op.Dest.Start, op.Dest.End, op.OldTokens, op.OldFlags)
	}
	e.log.suppress = false
	e.log.pushRedo(op)
	e.buf.markDirty()
	return nil
}

// Redo pops the most recent undone entry and reapplies the originally
// written payload (not the undo-saved one — see SPEC_FULL.md §9).
func (e *Editor) Redo() error {
	if err := e.checkWritable(); err != nil {
		return err
	}
	op, ok := e.log.popRedo()
	if !ok {
		return nil
	}
	e.log.suppress = true
	switch op.Kind {
	case OpInsert:
		e.buf.insertAt(op.Source.Start, op.NewTokens, FlagUserInjected)
	case OpDelete:
		e.buf.deleteRange(op.Source.Start, op.Source.End)
	case OpReplace:
		e.buf.replaceRange(op.Source.Start, op.Source.End, op.NewTokens, FlagUserInjected)
	}
	e.log.suppress = false
	e.log.pushUndo(op)
	e.buf.markDirty()
	return nil
}

// HistoryLen and RedoLen report current stack depths, used by tests of the
// accounting invariant in SPEC_FULL.md §8.
func (e *Editor) HistoryLen() int { return len(e.log.history) }
func (e *Editor) RedoLen() int    { return len(e.log.redoStack) }

// FindToken linearly scans for the first occurrence of tok.
func (e *Editor) FindToken(tok Token) (Position, bool) {
	for i, t := range e.buf.tokens {
		if t == tok {
			return Position(i), true
		}
	}
	return 0, false
}

// FindText tokenizes text and runs a naive O(n*m) substring match over the
// buffer, writing at most len(out) match positions.
func (e *Editor) FindText(text string, out []Position) (int, error) {
	needle, err := e.Tokenize(text, false)
	if err != nil {
		return 0, err
	}
	if len(needle) == 0 {
		return 0, nil
	}
	n := 0
	hay := e.buf.tokens
	for i := 0; i+len(needle) <= len(hay); i++ {
		match := true
		for j, nt := range needle {
			if hay[i+j] != nt {
				match = false
				break
			}
		}
		if match {
			if n < len(out) {
				out[n] = Position(i)
			}
			n++
		}
	}
	return n, nil
}

// TopK ensures the cache is coherent, reads raw logits, and returns the k
// largest by logit descending via partial selection sort. Prob is left at
// zero: probability normalization is out of scope (SPEC_FULL.md §1).
func (e *Editor) TopK(ctx context.Context, k int) ([]Info, error) {
	if err := e.requireAdapter(); err != nil {
		return nil, err
	}
	if err := e.cache.syncKVCache(ctx, e.buf); err != nil {
		return nil, err
	}
	logits := append([]float32(nil), e.adapter.Logits()...)
	idx := make([]int, len(logits))
	for i := range idx {
		idx[i] = i
	}
	if k > len(logits) {
		k = len(logits)
	}
	for i := 0; i < k; i++ {
		best := i
		for j := i + 1; j < len(logits); j++ {
			if logits[j] > logits[best] {
				best = j
			}
		}
		logits[i], logits[best] = logits[best], logits[i]
		idx[i], idx[best] = idx[best], idx[i]
	}
	out := make([]Info, k)
	for i := 0; i < k; i++ {
		out[i] = Info{ID: Token(idx[i]), Logit: logits[i], HasLogit: true}
	}
	return out, nil
}

// SyncKVCache exposes the cache coordinator's lazy re-decode for callers
// (e.g. the generation driver) that need coherence without going through
// TopK.
func (e *Editor) SyncKVCache(ctx context.Context) error {
	return e.cache.syncKVCache(ctx, e.buf)
}

// DecodeOne advances the cache by a single already-appended position.
func (e *Editor) DecodeOne(ctx context.Context, pos Position) error {
	return e.cache.decodeOne(ctx, e.buf, pos)
}

// AppendGenerated appends tok as model output (not user-injected) without
// a cache sync, used by the generation driver which decodes incrementally
// itself.
func (e *Editor) AppendGenerated(tok Token) {
	pos := Position(e.buf.count())
	e.buf.insertAt(pos, []Token{tok}, FlagModelGenerated)
	r := Range{Start: pos, End: pos + 1}
	e.log.record(EditOp{Kind: OpInsert, Source: r, Dest: r, NewTokens: []Token{tok}})
}

// CreateSnapshot captures tokens, metadata, and adapter state.
func (e *Editor) CreateSnapshot() (Snapshot, error) {
	return captureSnapshot(e.buf, e.adapter)
}

// RestoreSnapshot overwrites the buffer and adapter state from snap without
// touching undo/redo history.
func (e *Editor) RestoreSnapshot(snap Snapshot) error {
	if err := e.checkWritable(); err != nil {
		return err
	}
	return restoreSnapshot(e.buf, e.adapter, snap)
}

// CreateSequence, DeleteSequence, CopySequence, and ForkSequence delegate to
// the sequence registry (SPEC_FULL.md §4.4).
func (e *Editor) CreateSequence() SeqID { return e.seqs.create() }
func (e *Editor) DeleteSequence(seq SeqID) error {
	return e.seqs.delete(seq, e.adapter)
}
func (e *Editor) CopySequence(src, dst SeqID) error {
	return e.seqs.copy(src, dst, e.adapter)
}
func (e *Editor) ForkSequence(src SeqID) (SeqID, error) {
	return e.seqs.fork(src, e.adapter)
}

// InvalidateRange and ShiftCache expose the remaining Cache Coordinator
// primitives named in SPEC_FULL.md §4.5.
func (e *Editor) InvalidateRange(seq SeqID, start, end Position) error {
	return e.cache.invalidateRange(seq, start, end)
}
func (e *Editor) ShiftCache(seq SeqID, start, end Position, delta int32) error {
	return e.cache.shift(seq, start, end, delta)
}

// ExportJSON emits {"tokens":[...]}. If out is too small, returns the
// 32+12n upper-bound size estimate and ErrBufferTooSmall.
func (e *Editor) ExportJSON(out []byte) (int, error) {
	payload := struct {
		Tokens []Token `json:"tokens"`
	}{Tokens: e.buf.tokens}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	if len(out) < len(data) {
		return 32 + 12*e.buf.count(), ErrBufferTooSmall
	}
	copy(out, data)
	return len(data), nil
}

// ExportBinary writes a little-endian u32 count followed by count*4 bytes
// of little-endian token IDs.
func (e *Editor) ExportBinary(out []byte) (int, error) {
	n := e.buf.count()
	need := 4 + 4*n
	if len(out) < need {
		return need, ErrBufferTooSmall
	}
	binary.LittleEndian.PutUint32(out[0:4], uint32(n))
	for i, t := range e.buf.tokens {
		binary.LittleEndian.PutUint32(out[4+4*i:8+4*i], uint32(t))
	}
	return need, nil
}

// ImportBinary clears the buffer, imports the encoded tokens, recomputes
// flags, and marks the buffer dirty.
func (e *Editor) ImportBinary(data []byte) error {
	if err := e.checkWritable(); err != nil {
		return err
	}
	if len(data) < 4 {
		return ErrBufferTooSmall
	}
	n := int(binary.LittleEndian.Uint32(data[0:4]))
	if len(data) < 4+4*n {
		return ErrBufferTooSmall
	}
	toks := make([]Token, n)
	for i := 0; i < n; i++ {
		toks[i] = Token(binary.LittleEndian.Uint32(data[4+4*i : 8+4*i]))
	}
	e.buf.clear()
	e.buf.insertAt(0, toks, 0)
	e.buf.markDirty()
	e.log = newEditLog()
	return nil
}
