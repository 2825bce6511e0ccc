package decode

import (
	"context"

	"github.com/samcharles93/loom/internal/logits"
)

// DecodeState is the opaque per-sequence model state (attention cache or
// similar) threaded through model calls. The controller owns it for the
// sequence's lifetime and replaces it wholesale on every call; it never
// inspects or mutates it.
type DecodeState any

// Model is the forward-pass collaborator. Both calls must return a score
// vector of exactly VocabSize entries; anything else is a contract
// violation. A model call is atomic from the controller's point of view:
// whatever parallelism it uses internally, there are no partial results.
type Model interface {
	// Initial consumes the full (padded) context and returns the scores
	// for the first generation step along with the primed decode state.
	Initial(ctx context.Context, prompt []int) ([]float32, DecodeState, error)

	// Step consumes the previously emitted token and returns the next
	// step's scores and the replacement decode state.
	Step(ctx context.Context, token int, state DecodeState) ([]float32, DecodeState, error)

	VocabSize() int
}

// StoppingPolicy is the external arbiter consulted after every dynamic-mode
// step. It sees the full generated buffers of every sequence and decides
// whether the batch should halt, or discard the step it just took and
// regenerate. The excluded value is policy-private state threaded through
// unchanged by the controller.
type StoppingPolicy interface {
	Evaluate(generated [][]int, steps int, excluded any) (newExcluded any, regenerate bool, halt bool, err error)
}

// StoppingPolicyFunc adapts a function to the StoppingPolicy interface.
type StoppingPolicyFunc func(generated [][]int, steps int, excluded any) (any, bool, bool, error)

func (f StoppingPolicyFunc) Evaluate(generated [][]int, steps int, excluded any) (any, bool, bool, error) {
	return f(generated, steps, excluded)
}

// ConfigSource supplies the sampler configuration. Dynamic mode re-reads it
// before every step, so settings may change between steps but never within
// one.
type ConfigSource interface {
	Current() logits.Config
}

// FixedConfig is a ConfigSource that always returns the same configuration.
type FixedConfig logits.Config

func (c FixedConfig) Current() logits.Config { return logits.Config(c) }

// ScoreAdjuster is an optional hook that rewrites the whole batch of score
// vectors once per dynamic-mode step, before sampling. It wraps external
// biasing such as batch-level token bans or boosts.
type ScoreAdjuster interface {
	Adjust(batch [][]float32) ([][]float32, error)
}

// ScoreAdjusterFunc adapts a function to the ScoreAdjuster interface.
type ScoreAdjusterFunc func(batch [][]float32) ([][]float32, error)

func (f ScoreAdjusterFunc) Adjust(batch [][]float32) ([][]float32, error) {
	return f(batch)
}
