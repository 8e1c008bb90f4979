//go:build native

package modeladapter

import (
	"context"
	"fmt"
	"sync"

	"tokenforge/internal/native"
	"tokenforge/internal/token"
)

var backendOnce sync.Once

// NewNative loads a GGUF model from modelPath and returns a token.Adapter
// backed by llama.cpp via internal/native. The backend is initialized once
// per process regardless of how many nodes construct a native adapter.
func NewNative(modelPath string) (token.Adapter, error) {
	backendOnce.Do(native.BackendInit)

	model, err := native.LoadModel(modelPath, native.DefaultModelOptions())
	if err != nil {
		return nil, fmt.Errorf("modeladapter: %w", err)
	}

	ctx, err := native.NewContext(model, native.DefaultContextOptions())
	if err != nil {
		model.Close()
		return nil, fmt.Errorf("modeladapter: %w", err)
	}

	return &nativeAdapter{
		model: model,
		ctx:   ctx,
		vocab: int(model.VocabSize()),
	}, nil
}

// nativeAdapter implements token.Adapter over a single llama.cpp model and
// inference context. Each Context Node in a Recursive Context Environment
// owns exactly one nativeAdapter, so the underlying C context never has to
// multiplex more than one generation stream at a time; the sequence IDs
// passed through CacheClear/CacheRemove/CacheCopy/CacheShift still map onto
// real llama.cpp KV sequences, supporting the editor's CopySequence and
// ForkSequence bookkeeping, but Decode itself always targets the position
// range given in the batch rather than a specific sequence.
type nativeAdapter struct {
	model *native.Model
	ctx   *native.Context
	vocab int
}

func (a *nativeAdapter) Tokenize(text string, addBOS bool) ([]token.Token, error) {
	ids, err := a.model.Tokenize(text, addBOS, true)
	if err != nil {
		return nil, fmt.Errorf("modeladapter: tokenize: %w", err)
	}
	toks := make([]token.Token, len(ids))
	for i, id := range ids {
		toks[i] = token.Token(id)
	}
	return toks, nil
}

func (a *nativeAdapter) DetokenizePiece(tok token.Token) ([]byte, error) {
	piece := a.model.TokenToPiece(int32(tok))
	return []byte(piece), nil
}

func (a *nativeAdapter) VocabSize() int { return a.vocab }

func (a *nativeAdapter) TokenAttributes(tok token.Token) token.TokenAttrs {
	return token.TokenAttrs{
		Special: a.model.TokenIsEOG(int32(tok)) || tok == token.Token(a.model.TokenBOS()),
	}
}

func (a *nativeAdapter) IsBOS(tok token.Token) bool {
	return int32(tok) == a.model.TokenBOS()
}

func (a *nativeAdapter) IsEOG(tok token.Token) bool {
	return a.model.TokenIsEOG(int32(tok))
}

func (a *nativeAdapter) CacheClear(seq token.SeqID) error {
	if seq == token.AllSeqs {
		a.ctx.SeqClear(-1)
		return nil
	}
	a.ctx.SeqClear(int32(seq))
	return nil
}

func (a *nativeAdapter) CacheRemove(seq token.SeqID, start, end token.Position) error {
	a.ctx.SeqRemove(int32(seq), int32(start), int32(end))
	return nil
}

func (a *nativeAdapter) CacheCopy(src, dst token.SeqID, start, end token.Position) error {
	a.ctx.SeqCopy(int32(src), int32(dst), int32(start), int32(end))
	return nil
}

func (a *nativeAdapter) CacheShift(seq token.SeqID, start, end token.Position, delta int32) error {
	a.ctx.SeqShift(int32(seq), int32(start), int32(end), delta)
	return nil
}

func (a *nativeAdapter) Decode(ctx context.Context, batch token.Batch) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if len(batch.Tokens) == 0 {
		return nil
	}

	ids := make([]int32, len(batch.Tokens))
	for i, t := range batch.Tokens {
		ids[i] = int32(t)
	}

	posStart := int32(0)
	if len(batch.Pos) > 0 {
		posStart = int32(batch.Pos[0])
	}

	if err := a.ctx.DecodeAt(ids, posStart); err != nil {
		return fmt.Errorf("modeladapter: decode: %w", err)
	}
	return nil
}

func (a *nativeAdapter) Logits() []float32 {
	return a.ctx.LastLogits(int32(a.vocab))
}

func (a *nativeAdapter) StateSize() int {
	return int(a.ctx.StateSize())
}

func (a *nativeAdapter) StateSave(buf []byte) (int, error) {
	n, err := a.ctx.StateSave(buf)
	return int(n), err
}

func (a *nativeAdapter) StateLoad(buf []byte) error {
	_, err := a.ctx.StateLoad(buf)
	return err
}

func (a *nativeAdapter) NewSampler(params token.SamplerParams) (token.Sampler, error) {
	chain := native.NewSamplerChain(native.SamplerOptions{
		Temperature:   params.Temperature,
		TopK:          int32(params.TopK),
		TopP:          params.TopP,
		RepeatPenalty: params.RepeatPenalty,
		RepeatLastN:   int32(params.RepeatLastN),
		Seed:          uint32(params.Seed),
	})
	return &nativeSampler{adapter: a, chain: chain}, nil
}

func (a *nativeAdapter) Close() error {
	a.ctx.Close()
	a.model.Close()
	return nil
}

// nativeSampler adapts native.SamplerChain, which samples directly against
// an inference context's live logit buffer, to the token.Sampler contract,
// which is handed an explicit logits slice. The two are equivalent here:
// the logits slice the core passes to Sample was itself produced by
// Adapter.Logits() reading the same context this sampler chain is bound
// to, so Sample ignores the slice's backing values and samples from the
// context directly rather than re-uploading them.
type nativeSampler struct {
	adapter *nativeAdapter
	chain   *native.SamplerChain
}

func (s *nativeSampler) Sample(ctx context.Context, logits []float32) (token.Token, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	tok, err := s.adapter.ctx.SampleToken(s.chain)
	if err != nil {
		return 0, fmt.Errorf("modeladapter: sample: %w", err)
	}
	return token.Token(tok), nil
}

func (s *nativeSampler) Accept(tok token.Token) {
	s.chain.Accept(int32(tok))
}

func (s *nativeSampler) Close() {
	s.chain.Close()
}
