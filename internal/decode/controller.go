// Package decode drives the multi-step, multi-sequence generation loop: it
// repeatedly calls the model for next-step scores, samples one token per
// sequence, and advances every sequence in lock-step until a stopping
// condition is met.
//
// Two modes exist. Dynamic mode consults an external stopping policy after
// every step and allows per-step reconfiguration and score adjustment.
// Static mode runs with fixed parameters until each sequence has emitted its
// stop token or reached the requested length.
package decode

import (
	"context"
	"fmt"

	"github.com/samcharles93/loom/internal/logits"
	"github.com/samcharles93/loom/internal/rng"
)

// Controller owns the generation loop for one batch at a time. The model
// call is its only suspension point; sampling and state updates are
// synchronous. Cancellation is cooperative and only observed at step
// boundaries, never mid-call.
type Controller struct {
	Model Model

	// Config is re-read before every dynamic-mode step. Nil means the
	// package defaults. Static mode ignores it; its configs are fixed at
	// call time.
	Config ConfigSource

	// Policy decides, after each dynamic-mode step, whether the batch
	// halts or must regenerate. Required for dynamic mode.
	Policy StoppingPolicy

	// Adjuster optionally rewrites the batch's score vectors before each
	// dynamic-mode sampling pass.
	Adjuster ScoreAdjuster

	// Banned tokens are never sampled in either mode.
	Banned []int

	// Pad fills generated buffers beyond the write cursor.
	Pad int
}

// DynamicResult carries the outcome of a dynamic-mode run. When Regenerate
// is set the final step's tokens are still present in the sequences; the
// whole batch is meant to be re-run, mirroring the coarse batch-level
// rollback of the stopping protocol.
type DynamicResult struct {
	Sequences  []*Sequence
	Steps      int
	Regenerate bool
	Halted     bool
	Excluded   any
}

// RunDynamic generates up to maxGen tokens for every context in lock-step:
// step n completes for every sequence before step n+1 begins for any. After
// each step the stopping policy sees every sequence's full buffer and may
// halt the batch or demand regeneration. Sampler settings are re-read from
// the config source every step.
func (c *Controller) RunDynamic(ctx context.Context, contexts [][]int, maxGen int, key rng.Stream, excluded any) (*DynamicResult, error) {
	if c.Model == nil {
		return nil, fmt.Errorf("%w: nil model", ErrContract)
	}
	if c.Policy == nil {
		return nil, fmt.Errorf("%w: dynamic mode requires a stopping policy", ErrContract)
	}
	if len(contexts) == 0 || maxGen < 1 {
		return nil, fmt.Errorf("%w: need at least one context and maxGen >= 1", ErrContract)
	}

	seqs, scores, err := c.prime(ctx, contexts, maxGen)
	if err != nil {
		return nil, err
	}

	sampler := &logits.Sampler{Banned: c.Banned}
	res := &DynamicResult{Sequences: seqs, Excluded: excluded}
	n := len(seqs)
	next := 0

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if c.Adjuster != nil {
			adjusted, err := c.Adjuster.Adjust(scores)
			if err != nil {
				return res, fmt.Errorf("score adjuster: %w", err)
			}
			if len(adjusted) != n {
				return res, fmt.Errorf("%w: adjuster returned %d rows for %d sequences", ErrContract, len(adjusted), n)
			}
			for i, row := range adjusted {
				if len(row) != c.Model.VocabSize() {
					return res, fmt.Errorf("%w: adjusted row %d has length %d, want %d", ErrContract, i, len(row), c.Model.VocabSize())
				}
			}
			scores = adjusted
		}

		cfg := logits.DefaultConfig()
		if c.Config != nil {
			cfg = c.Config.Current()
		}
		if err := cfg.Validate(); err != nil {
			return res, fmt.Errorf("%w: %v", ErrContract, err)
		}

		// Advance every slot, starting from the least recently updated.
		for i := 0; i < n; i++ {
			slot := (next + i) % n
			seq := seqs[slot]
			tok, carry, err := sampler.Sample(scores[slot], seq.buf, seq.cursor, seq.generatedLen() == 0, cfg, key)
			if err != nil {
				return res, fmt.Errorf("sample sequence %d: %w", slot, err)
			}
			key = carry
			if err := seq.append(tok); err != nil {
				return res, err
			}
		}
		next = (next + 1) % n
		res.Steps++

		generated := make([][]int, n)
		for i, seq := range seqs {
			generated[i] = seq.Tokens()
		}
		newExcluded, regen, halt, err := c.Policy.Evaluate(generated, res.Steps, res.Excluded)
		if err != nil {
			return res, fmt.Errorf("stopping policy: %w", err)
		}
		res.Excluded = newExcluded
		res.Regenerate = regen
		res.Halted = halt
		if regen || halt {
			return res, nil
		}

		// All sequences fill at the same rate; the batch is exhausted as
		// soon as one buffer is.
		if seqs[0].full() {
			return res, nil
		}

		for i := 0; i < n; i++ {
			slot := (next + i) % n
			seq := seqs[slot]
			sc, st, err := c.step(ctx, seq.last, seq.state)
			if err != nil {
				return res, err
			}
			scores[slot] = sc
			seq.state = st
		}
	}
}

// prime runs the model's Initial call for every context and builds the
// per-sequence state records.
func (c *Controller) prime(ctx context.Context, contexts [][]int, maxGen int) ([]*Sequence, [][]float32, error) {
	v := c.Model.VocabSize()
	seqs := make([]*Sequence, len(contexts))
	scores := make([][]float32, len(contexts))
	for i, prompt := range contexts {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		sc, st, err := c.Model.Initial(ctx, prompt)
		if err != nil {
			return nil, nil, fmt.Errorf("model initial: %w", err)
		}
		if len(sc) != v {
			return nil, nil, fmt.Errorf("%w: model returned %d scores, want vocab size %d", ErrContract, len(sc), v)
		}
		seqs[i] = newSequence(prompt, maxGen, c.Pad)
		seqs[i].state = st
		scores[i] = sc
	}
	return seqs, scores, nil
}

// step wraps Model.Step with the score-shape contract check.
func (c *Controller) step(ctx context.Context, token int, state DecodeState) ([]float32, DecodeState, error) {
	sc, st, err := c.Model.Step(ctx, token, state)
	if err != nil {
		return nil, nil, fmt.Errorf("model step: %w", err)
	}
	if len(sc) != c.Model.VocabSize() {
		return nil, nil, fmt.Errorf("%w: model returned %d scores, want vocab size %d", ErrContract, len(sc), c.Model.VocabSize())
	}
	return sc, st, nil
}
