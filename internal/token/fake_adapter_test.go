package token

import (
	"context"
	"fmt"
)

// fakeAdapter is a minimal in-package Adapter used by white-box tests that
// need cache coordination without depending on modeladapter (which already
// depends on this package). It mirrors the stub adapter's vocabulary rule
// from SPEC_FULL.md §8 scenario 1: token i detokenizes to chr('a'+i).
type fakeAdapter struct {
	vocab       int
	decoded     []Token
	decodeErr   error
	state       []byte
	cacheClears int
}

func newFakeAdapter(vocab int) *fakeAdapter {
	return &fakeAdapter{vocab: vocab, state: []byte("snap")}
}

func (a *fakeAdapter) Tokenize(text string, addBOS bool) ([]Token, error) {
	toks := make([]Token, 0, len(text))
	for _, r := range text {
		toks = append(toks, Token(r-'a'))
	}
	return toks, nil
}

func (a *fakeAdapter) DetokenizePiece(tok Token) ([]byte, error) {
	if tok < 0 {
		return nil, ErrInvalidToken
	}
	return []byte{byte('a' + tok)}, nil
}

func (a *fakeAdapter) VocabSize() int                            { return a.vocab }
func (a *fakeAdapter) TokenAttributes(tok Token) TokenAttrs       { return TokenAttrs{} }
func (a *fakeAdapter) IsBOS(tok Token) bool                       { return tok == 0 }
func (a *fakeAdapter) IsEOG(tok Token) bool                       { return tok == Token(a.vocab-1) }
func (a *fakeAdapter) CacheClear(seq SeqID) error                 { a.cacheClears++; return nil }
func (a *fakeAdapter) CacheRemove(seq SeqID, s, e Position) error { return nil }
func (a *fakeAdapter) CacheCopy(src, dst SeqID, s, e Position) error { return nil }
func (a *fakeAdapter) CacheShift(seq SeqID, s, e Position, delta int32) error { return nil }

func (a *fakeAdapter) Decode(ctx context.Context, batch Batch) error {
	if a.decodeErr != nil {
		return a.decodeErr
	}
	a.decoded = append([]Token(nil), batch.Tokens...)
	return nil
}

func (a *fakeAdapter) Logits() []float32 {
	logits := make([]float32, a.vocab)
	for i := range logits {
		logits[i] = float32(i)
	}
	return logits
}

func (a *fakeAdapter) StateSize() int { return len(a.state) }
func (a *fakeAdapter) StateSave(buf []byte) (int, error) {
	n := copy(buf, a.state)
	return n, nil
}
func (a *fakeAdapter) StateLoad(buf []byte) error {
	a.state = append([]byte(nil), buf...)
	return nil
}

func (a *fakeAdapter) NewSampler(params SamplerParams) (Sampler, error) {
	return nil, fmt.Errorf("fakeAdapter: sampling not supported")
}

func (a *fakeAdapter) Close() error { return nil }
