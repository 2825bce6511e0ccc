package decode

import (
	"context"
	"fmt"

	"github.com/samcharles93/loom/internal/logger"
	"github.com/samcharles93/loom/internal/logits"
	"github.com/samcharles93/loom/internal/rng"
)

// Orchestrator prepares prompts for the loop controller and extracts the
// generated suffixes afterwards. Prompts are optionally prefixed with a
// fixed soft-token block, then left-padded with the PAD token to the context
// window.
type Orchestrator struct {
	Controller *Controller

	// ContextLen is the model's context window; every prompt is padded to
	// exactly this length.
	ContextLen int

	// SoftTokens are prepended to every prompt before padding.
	SoftTokens []int

	Log logger.Logger
}

// Result is the outcome of a dynamic-mode generation. Sequences hold the
// fixed genLen-sized suffixes; positions past the last sampled token are
// PAD. When Regenerate is set, the caller is expected to discard these
// sequences and run again.
type Result struct {
	Sequences  [][]int
	Steps      int
	Regenerate bool
	Halted     bool
	Excluded   any
}

// Dynamic runs numSeqs sequences over one prompt in dynamic mode and
// returns their genLen-sized suffixes.
func (o *Orchestrator) Dynamic(ctx context.Context, prompt []int, numSeqs, genLen int, key rng.Stream, excluded any) (*Result, error) {
	contexts, err := o.batch(prompt, numSeqs)
	if err != nil {
		return nil, err
	}

	res, err := o.Controller.RunDynamic(ctx, contexts, genLen, key, excluded)
	if err != nil {
		return nil, err
	}

	out := &Result{
		Sequences:  make([][]int, 0, len(res.Sequences)),
		Steps:      res.Steps,
		Regenerate: res.Regenerate,
		Halted:     res.Halted,
		Excluded:   res.Excluded,
	}
	for _, seq := range res.Sequences {
		buf := seq.Tokens()
		out.Sequences = append(out.Sequences, buf[o.ContextLen:o.ContextLen+genLen])
	}
	if o.Log != nil {
		o.Log.Debug("dynamic generation finished",
			"sequences", len(out.Sequences),
			"steps", out.Steps,
			"halted", out.Halted,
			"regenerate", out.Regenerate)
	}
	return out, nil
}

// Static runs numSeqs sequences over one prompt in static mode and returns
// each sequence's generated tokens, ending with the stop token when one was
// emitted.
func (o *Orchestrator) Static(ctx context.Context, prompt []int, numSeqs, genLen int, cfg logits.Config, key rng.Stream) ([][]int, error) {
	contexts, err := o.batch(prompt, numSeqs)
	if err != nil {
		return nil, err
	}

	seqs, err := o.Controller.RunStatic(ctx, contexts, genLen, []logits.Config{cfg}, key)
	if err != nil {
		return nil, err
	}

	out := make([][]int, len(seqs))
	for i, seq := range seqs {
		out[i] = seq.Generated()
	}
	if o.Log != nil {
		o.Log.Debug("static generation finished", "sequences", len(out), "gen_len", genLen)
	}
	return out, nil
}

// batch pads the prompt and replicates it for every requested sequence.
func (o *Orchestrator) batch(prompt []int, numSeqs int) ([][]int, error) {
	if numSeqs < 1 {
		return nil, fmt.Errorf("%w: numSeqs must be >= 1", ErrContract)
	}
	padded, err := o.padPrompt(prompt)
	if err != nil {
		return nil, err
	}
	contexts := make([][]int, numSeqs)
	for i := range contexts {
		contexts[i] = padded
	}
	return contexts, nil
}

// padPrompt prefixes the soft-token block and left-pads to the context
// window.
func (o *Orchestrator) padPrompt(prompt []int) ([]int, error) {
	tokens := make([]int, 0, len(o.SoftTokens)+len(prompt))
	tokens = append(tokens, o.SoftTokens...)
	tokens = append(tokens, prompt...)
	if len(tokens) > o.ContextLen {
		return nil, fmt.Errorf("%w: prompt of %d tokens exceeds context window %d", ErrContract, len(tokens), o.ContextLen)
	}

	padded := make([]int, o.ContextLen)
	padAmount := o.ContextLen - len(tokens)
	for i := 0; i < padAmount; i++ {
		padded[i] = o.Controller.Pad
	}
	copy(padded[padAmount:], tokens)
	return padded, nil
}
