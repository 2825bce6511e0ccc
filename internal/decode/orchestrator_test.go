package decode

import (
	"context"
	"errors"
	"testing"

	"github.com/samcharles93/loom/internal/rng"
)

func TestPadPrompt(t *testing.T) {
	t.Parallel()
	o := &Orchestrator{Controller: &Controller{Pad: 9}, ContextLen: 6}

	got, err := o.padPrompt([]int{1, 2})
	if err != nil {
		t.Fatalf("padPrompt: %v", err)
	}
	wantTokens(t, got, []int{9, 9, 9, 9, 1, 2})

	o.SoftTokens = []int{7}
	got, err = o.padPrompt([]int{1, 2})
	if err != nil {
		t.Fatalf("padPrompt with soft tokens: %v", err)
	}
	wantTokens(t, got, []int{9, 9, 9, 7, 1, 2})
}

func TestPadPromptTooLong(t *testing.T) {
	t.Parallel()
	o := &Orchestrator{Controller: &Controller{Pad: 9}, ContextLen: 4, SoftTokens: []int{7}}
	_, err := o.padPrompt([]int{1, 2, 3, 4})
	if !errors.Is(err, ErrContract) {
		t.Fatalf("got %v, want contract violation", err)
	}
}

func TestOrchestratorDynamic(t *testing.T) {
	t.Parallel()
	model := &fakeModel{vocab: 8, rows: peakRows(8, func(step int) int { return step + 1 })}
	o := &Orchestrator{
		Controller: &Controller{Model: model, Policy: haltAfter(2)},
		ContextLen: 4,
	}

	res, err := o.Dynamic(context.Background(), []int{1, 2}, 2, 3, rng.New(7), nil)
	if err != nil {
		t.Fatalf("Dynamic: %v", err)
	}
	if len(res.Sequences) != 2 || res.Steps != 2 || !res.Halted {
		t.Fatalf("got %d sequences, steps=%d halted=%v", len(res.Sequences), res.Steps, res.Halted)
	}
	for _, seq := range res.Sequences {
		// Suffixes are the fixed generation window: sampled tokens first,
		// PAD for the step the policy never reached.
		wantTokens(t, seq, []int{1, 2, 0})
	}
	for _, prompt := range model.initCalls {
		wantTokens(t, prompt, []int{0, 0, 1, 2})
	}
}

func TestOrchestratorStatic(t *testing.T) {
	t.Parallel()
	model := &fakeModel{vocab: 8, rows: peakRows(8, func(step int) int {
		if step >= 1 {
			return 3
		}
		return 1
	})}
	o := &Orchestrator{
		Controller: &Controller{Model: model},
		ContextLen: 4,
	}
	cfg := openConfig()
	cfg.StopToken = 3

	seqs, err := o.Static(context.Background(), []int{1, 2}, 2, 4, cfg, rng.New(7))
	if err != nil {
		t.Fatalf("Static: %v", err)
	}
	if len(seqs) != 2 {
		t.Fatalf("got %d sequences, want 2", len(seqs))
	}
	for _, seq := range seqs {
		wantTokens(t, seq, []int{1, 3})
	}
}

func TestOrchestratorBatchContract(t *testing.T) {
	t.Parallel()
	model := &fakeModel{vocab: 8, rows: flatRows(8)}
	o := &Orchestrator{Controller: &Controller{Model: model}, ContextLen: 4}
	_, err := o.Static(context.Background(), []int{1}, 0, 3, openConfig(), rng.New(7))
	if !errors.Is(err, ErrContract) {
		t.Fatalf("got %v, want contract violation", err)
	}
}
