package logits

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig reports a sampler configuration with contradictory
// values. It is a programming error, never retried.
var ErrInvalidConfig = errors.New("logits: invalid sampler config")

// ErrDegenerate reports a score vector with no finite entries left after
// filtering. The draw has no defined outcome, so the step fails instead of
// silently returning token 0.
var ErrDegenerate = errors.New("logits: no finite scores to sample from")

// Config holds the per-sequence sampling parameters. A Config is immutable
// for the duration of one sampling step; in dynamic generation a fresh one
// is read from the configuration source before every step.
type Config struct {
	// TopP keeps the smallest set of tokens whose cumulative probability
	// exceeds this value. 1.0 disables the filter.
	TopP float32

	// Temperature divides the scores before the draw. Must be > 0.
	Temperature float32

	// TopK keeps only the K highest-scoring tokens. 0 disables the filter.
	TopK int

	// TFS is the tail-free sampling threshold. 1.0 disables the filter.
	TFS float32

	// RepetitionPenalty discourages tokens that already occur in the
	// generated buffer. 1.0 disables the penalty.
	RepetitionPenalty float32

	// RepetitionSlope warps the penalty strength across the penalty window
	// so recent tokens are penalized harder than old ones. 0 disables the
	// slope.
	RepetitionSlope float32

	// RepetitionRange limits the penalty to the most recent N buffer
	// positions. 0 means the whole buffer.
	RepetitionRange int

	// StopToken is the token id that terminates a sequence, or -1 when
	// disabled. The first generated token is never allowed to be the stop
	// token.
	StopToken int
}

// DefaultConfig returns the sampling defaults used when no configuration
// source is provided.
func DefaultConfig() Config {
	return Config{
		TopP:              0.9,
		Temperature:       0.5,
		TopK:              0,
		TFS:               1.0,
		RepetitionPenalty: 1.0,
		RepetitionSlope:   0.0,
		RepetitionRange:   0,
		StopToken:         -1,
	}
}

// Validate rejects configurations the pipeline cannot apply.
func (c Config) Validate() error {
	if c.TopP < 0 || c.TopP > 1 {
		return fmt.Errorf("%w: top_p %v outside [0, 1]", ErrInvalidConfig, c.TopP)
	}
	if c.Temperature <= 0 {
		return fmt.Errorf("%w: temperature %v must be > 0", ErrInvalidConfig, c.Temperature)
	}
	if c.TopK < 0 {
		return fmt.Errorf("%w: top_k %d must be >= 0", ErrInvalidConfig, c.TopK)
	}
	if c.TFS < 0 || c.TFS > 1 {
		return fmt.Errorf("%w: tfs %v outside [0, 1]", ErrInvalidConfig, c.TFS)
	}
	if c.RepetitionPenalty <= 0 {
		return fmt.Errorf("%w: repetition_penalty %v must be > 0", ErrInvalidConfig, c.RepetitionPenalty)
	}
	if c.RepetitionRange < 0 {
		return fmt.Errorf("%w: rprange %d must be >= 0", ErrInvalidConfig, c.RepetitionRange)
	}
	if c.StopToken < -1 {
		return fmt.Errorf("%w: stop_token %d must be >= -1", ErrInvalidConfig, c.StopToken)
	}
	return nil
}
