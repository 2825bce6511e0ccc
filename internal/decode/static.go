package decode

import (
	"context"
	"fmt"

	"github.com/samcharles93/loom/internal/logits"
	"github.com/samcharles93/loom/internal/rng"
)

// RunStatic generates with parameters fixed at call start and no external
// intervention between steps. Each sequence keeps going until it has emitted
// its configured stop token or maxGen tokens, whichever comes first; the
// stop token is written into the buffer before the sequence retires.
//
// cfgs holds either one configuration shared by every sequence or one per
// sequence. Live sequences advance round-robin so the batch keeps a uniform
// per-sequence step cadence regardless of which sequences finish early.
func (c *Controller) RunStatic(ctx context.Context, contexts [][]int, maxGen int, cfgs []logits.Config, key rng.Stream) ([]*Sequence, error) {
	if c.Model == nil {
		return nil, fmt.Errorf("%w: nil model", ErrContract)
	}
	if len(contexts) == 0 || maxGen < 1 {
		return nil, fmt.Errorf("%w: need at least one context and maxGen >= 1", ErrContract)
	}
	if len(cfgs) != 1 && len(cfgs) != len(contexts) {
		return nil, fmt.Errorf("%w: got %d configs for %d sequences", ErrContract, len(cfgs), len(contexts))
	}
	for i, cfg := range cfgs {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("%w: config %d: %v", ErrContract, i, err)
		}
	}

	seqs, scores, err := c.prime(ctx, contexts, maxGen)
	if err != nil {
		return nil, err
	}

	sampler := &logits.Sampler{Banned: c.Banned}
	n := len(seqs)
	done := make([]bool, n)
	active := n
	next := 0

	for active > 0 {
		if err := ctx.Err(); err != nil {
			return seqs, err
		}
		for i := 0; i < n; i++ {
			slot := (next + i) % n
			if done[slot] {
				continue
			}
			seq := seqs[slot]
			cfg := cfgs[0]
			if len(cfgs) > 1 {
				cfg = cfgs[slot]
			}

			tok, carry, err := sampler.Sample(scores[slot], seq.buf, seq.cursor, seq.generatedLen() == 0, cfg, key)
			if err != nil {
				return seqs, fmt.Errorf("sample sequence %d: %w", slot, err)
			}
			key = carry
			if err := seq.append(tok); err != nil {
				return seqs, err
			}

			if (cfg.StopToken >= 0 && tok == cfg.StopToken) || seq.generatedLen() >= maxGen {
				done[slot] = true
				active--
				continue
			}

			sc, st, err := c.step(ctx, tok, seq.state)
			if err != nil {
				return seqs, err
			}
			scores[slot] = sc
			seq.state = st
		}
		next = (next + 1) % n
	}
	return seqs, nil
}
