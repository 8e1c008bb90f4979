package rctx

import (
	"context"
	"fmt"
	"time"

	"tokenforge/internal/token"
)

// Complete runs the synchronous generation driver against n (SPEC_FULL.md
// §4.6, grounded on rllm_complete / rllm_complete_sync): it syncs the KV
// cache, builds a sampler from params, then repeatedly samples, commits,
// and decodes a single token at a time until NPredict tokens have been
// produced, the adapter signals end-of-generation, or params.TimeoutMs
// elapses. Tokens are reported through n's OnToken callback as they land;
// Stream only gates whether the caller asked for incremental delivery, the
// driver itself always appends and decodes one token at a time.
func (n *Node) Complete(ctx context.Context, params CompletionParams) error {
	if params.NPredict == 0 {
		params = DefaultCompletionParams()
	}

	if params.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(params.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	n.mu.Lock()
	if n.state == StateRunning {
		n.mu.Unlock()
		return ErrContextBusy
	}
	n.state = StateRunning
	n.startTime = time.Now()
	n.tokensGenerated = 0
	n.mu.Unlock()

	final := StateComplete
	defer func() {
		n.mu.Lock()
		n.endTime = time.Now()
		cb := n.callbacks.OnComplete
		n.mu.Unlock()
		n.setState(final)
		if cb != nil {
			cb(final)
		}
	}()

	if err := n.editor.SyncKVCache(ctx); err != nil {
		final = StateError
		return fmt.Errorf("%w: %v", ErrModel, err)
	}

	sampler, err := n.adapter.NewSampler(token.SamplerParams{
		Temperature:   params.Temperature,
		TopP:          params.TopP,
		TopK:          params.TopK,
		RepeatPenalty: params.RepeatPenalty,
		RepeatLastN:   64,
	})
	if err != nil {
		final = StateError
		return ErrModel
	}
	defer sampler.Close()

	for i := uint32(0); i < params.NPredict; i++ {
		select {
		case <-ctx.Done():
			final = StateError
			return ErrTimeout
		default:
		}

		tok, err := sampler.Sample(ctx, n.adapter.Logits())
		if err != nil {
			final = StateError
			return fmt.Errorf("%w: %v", ErrModel, err)
		}
		if n.adapter.IsEOG(tok) {
			return nil
		}

		sampler.Accept(tok)
		n.editor.AppendGenerated(tok)
		pos := token.Position(n.editor.GetTokenCount(token.DefaultSeq) - 1)
		if err := n.editor.DecodeOne(ctx, pos); err != nil {
			final = StateError
			return fmt.Errorf("%w: %v", ErrModel, err)
		}

		n.mu.Lock()
		n.tokensGenerated++
		cb := n.callbacks.OnToken
		n.mu.Unlock()
		if cb != nil {
			cb(tok)
		}
	}
	return nil
}

// CompleteSync runs Complete and returns the text generated beyond the
// pre-call buffer, rather than requiring the caller to track position
// itself (maps to rllm_complete_sync's string-returning convenience form).
func (n *Node) CompleteSync(ctx context.Context, params CompletionParams) (string, error) {
	before := n.editor.GetTokenCount(token.DefaultSeq)

	if err := n.Complete(ctx, params); err != nil {
		return "", err
	}

	after := n.editor.GetTokenCount(token.DefaultSeq)
	if after <= before {
		return "", nil
	}
	toks := make([]token.Token, after-before)
	if _, err := n.editor.GetTokens(token.Range{Start: token.Position(before), End: token.Position(after)}, toks); err != nil {
		return "", err
	}
	return n.editor.Detokenize(toks)
}

// SelfEval asks the model to evaluate its own current context against
// evalPrompt without mutating n's buffer: it snapshots n, appends a framed
// evaluation prompt, runs a synchronous completion, captures the result,
// then restores the snapshot (grounded on rllm_self_eval).
func (n *Node) SelfEval(ctx context.Context, evalPrompt string, params CompletionParams) (string, error) {
	current, err := n.Text()
	if err != nil {
		return "", err
	}

	snap, err := n.editor.CreateSnapshot()
	if err != nil {
		return "", err
	}
	defer func() { _ = n.editor.RestoreSnapshot(snap) }()

	framed := fmt.Sprintf("[Context]\n%s\n\n[Evaluation Prompt]\n%s\n\n[Evaluation]", current, evalPrompt)
	if err := n.AppendPrompt(framed); err != nil {
		return "", err
	}

	return n.CompleteSync(ctx, params)
}

// RefinePredicate decides whether another refinement iteration should run,
// given the text produced so far and the 1-based iteration number just
// completed.
type RefinePredicate func(text string, iteration int) bool

// Refine runs completion against n's existing context, then, as long as
// shouldContinue says to keep going, appends "\n\n"+refinePrompt+"\n" and
// completes again, up to maxIterations times (grounded on rllm_refine).
// shouldContinue and the return value both see the full detokenized buffer,
// not just the latest completion's suffix.
func (n *Node) Refine(ctx context.Context, refinePrompt string, params CompletionParams, maxIterations int, shouldContinue RefinePredicate) (string, error) {
	var full string
	for i := 1; i <= maxIterations; i++ {
		if _, err := n.CompleteSync(ctx, params); err != nil {
			return full, err
		}

		text, err := n.Text()
		if err != nil {
			return full, err
		}
		full = text

		if shouldContinue == nil || !shouldContinue(full, i) {
			break
		}

		if i < maxIterations {
			if err := n.AppendPrompt("\n\n" + refinePrompt + "\n"); err != nil {
				return full, err
			}
		}
	}
	return full, nil
}
