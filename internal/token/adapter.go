package token

import "context"

// TokenAttrs reports vocabulary-derived classification for a single token,
// used to recompute Info.Flags at read time.
type TokenAttrs struct {
	Control bool
	Special bool
}

// Batch is one forward-decode request: parallel slices of tokens, their
// buffer positions, and the sequence each belongs to. LogitsAt names the
// index within the batch (not the absolute buffer position) whose logits
// should be retained after decode; -1 means none.
type Batch struct {
	Tokens   []Token
	Pos      []Position
	Seqs     []SeqID
	LogitsAt int
}

// Sampler draws a next token from the adapter's own state, honoring
// whatever generation parameters it was constructed with. It is the single
// external source of randomness the core consumes; the core itself
// implements no sampling beyond the top-k selection in Editor.TopK.
type Sampler interface {
	// Sample returns the next token given the logits currently available
	// from the adapter (see Adapter.Logits).
	Sample(ctx context.Context, logits []float32) (Token, error)
	// Accept notifies the sampler a token was committed, so stateful
	// penalties (repeat, frequency) can update.
	Accept(tok Token)
	Close()
}

// SamplerParams configures a Sampler. Zero Temperature selects greedy
// (argmax) sampling.
type SamplerParams struct {
	Temperature   float32
	TopP          float32
	TopK          int
	RepeatPenalty float32
	RepeatLastN   int
	Seed          uint64
}

// Adapter is the Model Adapter contract (SPEC_FULL.md §6): the single
// external boundary between the token editor and a real inference runtime.
// The core never implements tokenization, detokenization, or the forward
// pass itself; it only consumes this interface.
type Adapter interface {
	Tokenize(text string, addBOS bool) ([]Token, error)
	DetokenizePiece(tok Token) ([]byte, error)
	VocabSize() int
	TokenAttributes(tok Token) TokenAttrs
	IsBOS(tok Token) bool
	IsEOG(tok Token) bool

	CacheClear(seq SeqID) error
	CacheRemove(seq SeqID, start, end Position) error
	CacheCopy(src, dst SeqID, start, end Position) error
	CacheShift(seq SeqID, start, end Position, delta int32) error

	Decode(ctx context.Context, batch Batch) error
	Logits() []float32

	StateSize() int
	StateSave(buf []byte) (int, error)
	StateLoad(buf []byte) error

	NewSampler(params SamplerParams) (Sampler, error)

	Close() error
}
