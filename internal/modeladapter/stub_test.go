package modeladapter

import (
	"context"
	"testing"

	"tokenforge/internal/token"
)

func TestStubTokenizeDetokenizeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"simple word", "abc"},
		{"empty", ""},
		{"repeated letters", "aabbcc"},
	}
	s := NewStub(64)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			toks, err := s.Tokenize(tt.text, false)
			if err != nil {
				t.Fatalf("Tokenize: %v", err)
			}
			var got []byte
			for _, tok := range toks {
				piece, err := s.DetokenizePiece(tok)
				if err != nil {
					t.Fatalf("DetokenizePiece: %v", err)
				}
				got = append(got, piece...)
			}
			if string(got) != tt.text {
				t.Fatalf("round trip: got %q, want %q", got, tt.text)
			}
		})
	}
}

func TestStubDecodeAndLogits(t *testing.T) {
	s := NewStub(32)
	err := s.Decode(context.Background(), token.Batch{
		Tokens:   []token.Token{0, 1, 2},
		Pos:      []token.Position{0, 1, 2},
		Seqs:     []token.SeqID{0, 0, 0},
		LogitsAt: 2,
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	logits := s.Logits()
	if len(logits) != 32 {
		t.Fatalf("len(logits) = %d, want 32", len(logits))
	}
	// Token 3 (one past the last decoded token 2) should have the highest
	// synthetic logit.
	best := 0
	for i, l := range logits {
		if l > logits[best] {
			best = i
		}
	}
	if best != 3 {
		t.Fatalf("best = %d, want 3", best)
	}
}

func TestStubSamplerGreedy(t *testing.T) {
	s := NewStub(16)
	sampler, err := s.NewSampler(token.SamplerParams{})
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}
	defer sampler.Close()

	logits := []float32{0, 5, 2, 9, 1}
	got, err := sampler.Sample(context.Background(), logits)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if got != 3 {
		t.Fatalf("got %v, want 3", got)
	}
}

func TestStubSamplerRepeatPenaltyDiscouragesRepeats(t *testing.T) {
	s := NewStub(16)
	sampler, err := s.NewSampler(token.SamplerParams{RepeatPenalty: 2.0, RepeatLastN: 4})
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}
	defer sampler.Close()

	logits := []float32{0, 5, 2, 9, 1}
	first, _ := sampler.Sample(context.Background(), logits)
	sampler.Accept(first)
	second, _ := sampler.Sample(context.Background(), logits)
	if second == first {
		t.Fatalf("repeat penalty failed to discourage repeating token %v", first)
	}
}

func TestStubCacheRoundTripsThroughState(t *testing.T) {
	s := NewStub(16)
	s.Decode(context.Background(), token.Batch{
		Tokens: []token.Token{1, 2, 3}, Pos: []token.Position{0, 1, 2}, Seqs: []token.SeqID{0, 0, 0}, LogitsAt: -1,
	})
	buf := make([]byte, s.StateSize()+8)
	n, err := s.StateSave(buf)
	if err != nil {
		t.Fatalf("StateSave: %v", err)
	}
	s2 := NewStub(16)
	if err := s2.StateLoad(buf[:n]); err != nil {
		t.Fatalf("StateLoad: %v", err)
	}
	if len(s2.cache[s2.lastSeq]) != 3 {
		t.Fatalf("restored cache len = %d, want 3", len(s2.cache[s2.lastSeq]))
	}
}
