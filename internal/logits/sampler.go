// Package logits implements the score-vector transforms of the decoding
// layer: repetition penalty, the truncation filters (top-k, top-p, tail-free
// sampling, temperature), banned-token masking, and the final random draw.
//
// All transforms mutate the score vector in place and never resize it. The
// vector's length is the vocabulary size and its index is the token id.
package logits

import (
	"math"

	"github.com/samcharles93/loom/internal/rng"
)

// Sampler turns one step's score vector into a chosen token. It owns no
// mutable state; everything a step needs is passed in, so a single Sampler
// is safe to share across sequences.
type Sampler struct {
	// Banned tokens are masked before every draw regardless of the filter
	// configuration.
	Banned []int
}

// Sample applies the full pipeline to scores and draws the next token:
//
//  1. repetition penalty over the generated buffer
//  2. banned-token masking
//  3. first-step stop-token suppression
//  4. top-k, top-p, tail-free sampling, temperature
//  5. softmax draw using the stream's value
//
// scores is mutated in place; generated is never modified. cursor is the
// next write position in the generated buffer and firstStep reports whether
// this is the sequence's first generation step. The returned stream is the
// carried-forward half of a split; the consumed half provided the draw.
func (s *Sampler) Sample(scores []float32, generated []int, cursor int, firstStep bool, cfg Config, key rng.Stream) (int, rng.Stream, error) {
	use, carry := key.Split()

	ApplyRepetitionPenalty(scores, generated, cfg.RepetitionPenalty, cursor, cfg.RepetitionSlope, cfg.RepetitionRange)
	MaskTokens(scores, s.Banned)

	// Never let the very first generated token be the stop token, which
	// would produce an empty generation. Skipped when the mask would leave
	// nothing to sample.
	if firstStep && cfg.StopToken >= 0 && cfg.StopToken < len(scores) {
		if countMasked(scores) < len(scores)-1 {
			scores[cfg.StopToken] = negInf
		}
	}

	ApplyFilters(scores, cfg)

	tok, err := draw(scores, use)
	return tok, carry, err
}

// draw softmaxes the final scores and picks one token id proportionally
// using the stream's value. A vector with no finite mass yields
// ErrDegenerate.
func draw(scores []float32, key rng.Stream) (int, error) {
	maxv := math.Inf(-1)
	for _, v := range scores {
		f := float64(v)
		if !math.IsInf(f, 0) && !math.IsNaN(f) && f > maxv {
			maxv = f
		}
	}
	if math.IsInf(maxv, -1) {
		return 0, ErrDegenerate
	}

	probs := make([]float64, len(scores))
	var sum float64
	for i, v := range scores {
		f := float64(v)
		if math.IsInf(f, 0) || math.IsNaN(f) {
			continue
		}
		e := math.Exp(f - maxv)
		probs[i] = e
		sum += e
	}
	if sum <= 0 {
		return 0, ErrDegenerate
	}

	r := key.Float64() * sum
	var cum float64
	last := 0
	for i, p := range probs {
		if p == 0 {
			continue
		}
		cum += p
		last = i
		if r < cum {
			return i, nil
		}
	}
	// Rounding pushed r past the last bucket; return the last finite token.
	return last, nil
}
