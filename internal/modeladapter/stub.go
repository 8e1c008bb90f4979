// Package modeladapter provides concrete implementations of the token
// package's Model Adapter contract: a deterministic in-memory stub used by
// tests and the demo inspector, and a native cgo binding to a real
// inference runtime behind the "native" build tag.
package modeladapter

import (
	"context"
	"fmt"
	"math"

	"tokenforge/internal/token"
)

// Stub is a deterministic, pure-Go Adapter with a tiny synthetic
// vocabulary: token i detokenizes to the byte 'a'+i (wrapping past 26 into
// punctuation so every token ID in [0, VocabSize) has a defined piece). It
// never fails and never requires a real model, making it suitable both for
// the test suite's scenario table and for an interactive demo that doesn't
// depend on a GGUF file.
type Stub struct {
	vocab     int
	logits    []float32
	cache     map[token.SeqID][]token.Token
	lastSeq   token.SeqID
	stateBlob []byte
}

// NewStub builds a stub adapter with the given vocabulary size (must be at
// least 27: 26 letters plus EOS at index 26).
func NewStub(vocab int) *Stub {
	if vocab < 27 {
		vocab = 27
	}
	return &Stub{
		vocab:  vocab,
		logits: make([]float32, vocab),
		cache:  make(map[token.SeqID][]token.Token),
	}
}

// StubEOS is the sentinel end-of-generation token for the stub vocabulary.
const StubEOS token.Token = 26

func (s *Stub) Tokenize(text string, addBOS bool) ([]token.Token, error) {
	toks := make([]token.Token, 0, len(text)+1)
	if addBOS {
		toks = append(toks, 0)
	}
	for _, r := range text {
		if r >= 'a' && r <= 'z' {
			toks = append(toks, token.Token(r-'a'))
		} else {
			toks = append(toks, StubEOS)
		}
	}
	return toks, nil
}

func (s *Stub) DetokenizePiece(tok token.Token) ([]byte, error) {
	if tok < 0 || int(tok) >= s.vocab {
		return nil, token.ErrInvalidToken
	}
	if tok == StubEOS {
		return nil, nil
	}
	return []byte{byte('a' + tok)}, nil
}

func (s *Stub) VocabSize() int { return s.vocab }

func (s *Stub) TokenAttributes(tok token.Token) token.TokenAttrs {
	return token.TokenAttrs{Special: tok == StubEOS}
}

func (s *Stub) IsBOS(tok token.Token) bool { return tok == 0 }
func (s *Stub) IsEOG(tok token.Token) bool { return tok == StubEOS }

func (s *Stub) CacheClear(seq token.SeqID) error {
	if seq == token.AllSeqs {
		s.cache = make(map[token.SeqID][]token.Token)
		return nil
	}
	delete(s.cache, seq)
	return nil
}

func (s *Stub) CacheRemove(seq token.SeqID, start, end token.Position) error {
	toks := s.cache[seq]
	if int(start) >= len(toks) {
		return nil
	}
	if end < 0 || int(end) > len(toks) {
		end = token.Position(len(toks))
	}
	s.cache[seq] = append(toks[:start], toks[end:]...)
	return nil
}

func (s *Stub) CacheCopy(src, dst token.SeqID, start, end token.Position) error {
	toks := s.cache[src]
	if end < 0 || int(end) > len(toks) {
		end = token.Position(len(toks))
	}
	if int(start) > len(toks) {
		start = token.Position(len(toks))
	}
	s.cache[dst] = append([]token.Token(nil), toks[start:end]...)
	return nil
}

func (s *Stub) CacheShift(seq token.SeqID, start, end token.Position, delta int32) error {
	// The stub's "cache" is just the decoded token list; a shift has no
	// observable effect beyond what CacheRemove already models.
	return nil
}

func (s *Stub) Decode(ctx context.Context, batch token.Batch) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	for i, tok := range batch.Tokens {
		seq := batch.Seqs[i]
		s.cache[seq] = append(s.cache[seq], tok)
		s.lastSeq = seq
	}
	if batch.LogitsAt < 0 || batch.LogitsAt >= len(batch.Tokens) {
		return nil
	}
	// Deterministic synthetic logits: favor the token one past the last
	// decoded token, cycling through the vocabulary. This gives TopK and
	// the generation driver a stable, inspectable distribution.
	last := batch.Tokens[batch.LogitsAt]
	for i := range s.logits {
		dist := math.Abs(float64(token.Token(i) - (last + 1)))
		s.logits[i] = float32(-dist)
	}
	return nil
}

func (s *Stub) Logits() []float32 { return s.logits }

func (s *Stub) StateSize() int { return len(s.stateBlob) }

func (s *Stub) StateSave(buf []byte) (int, error) {
	seq := s.cache[s.lastSeq]
	blob := make([]byte, len(seq))
	for i, t := range seq {
		blob[i] = byte(t)
	}
	s.stateBlob = blob
	return copy(buf, blob), nil
}

func (s *Stub) StateLoad(buf []byte) error {
	toks := make([]token.Token, len(buf))
	for i, b := range buf {
		toks[i] = token.Token(b)
	}
	s.cache[s.lastSeq] = toks
	s.stateBlob = append([]byte(nil), buf...)
	return nil
}

func (s *Stub) NewSampler(params token.SamplerParams) (token.Sampler, error) {
	return &stubSampler{adapter: s, params: params}, nil
}

func (s *Stub) Close() error { return nil }

// stubSampler picks the argmax of the logits it's handed after applying the
// repeat penalty to recently accepted tokens — the "top-k selection over
// caller-supplied logits" SPEC_FULL.md §1 allows as the core's own sampling
// primitive, here standing in for a real temperature/top-p/top-k chain.
type stubSampler struct {
	adapter *Stub
	params  token.SamplerParams
	seen    []token.Token
}

func (s *stubSampler) Sample(ctx context.Context, logits []float32) (token.Token, error) {
	if len(logits) == 0 {
		return 0, fmt.Errorf("modeladapter: empty logits")
	}
	best := 0
	bestVal := float32(math.Inf(-1))
	for i, l := range logits {
		adjusted := l
		if s.params.RepeatPenalty > 1 {
			for _, seen := range s.seen {
				if token.Token(i) == seen {
					if adjusted > 0 {
						adjusted /= s.params.RepeatPenalty
					} else {
						adjusted *= s.params.RepeatPenalty
					}
				}
			}
		}
		if adjusted > bestVal {
			best = i
			bestVal = adjusted
		}
	}
	return token.Token(best), nil
}

func (s *stubSampler) Accept(tok token.Token) {
	s.seen = append(s.seen, tok)
	if s.params.RepeatLastN > 0 && len(s.seen) > s.params.RepeatLastN {
		s.seen = s.seen[len(s.seen)-s.params.RepeatLastN:]
	}
}

func (s *stubSampler) Close() {}
