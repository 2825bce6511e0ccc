package decode

import (
	"context"
	"errors"
	"testing"

	"github.com/samcharles93/loom/internal/logits"
	"github.com/samcharles93/loom/internal/rng"
)

// fakeModel emits one scripted score row per step. The decode state is the
// step counter, so the controller's state threading is exercised for real.
type fakeModel struct {
	vocab     int
	rows      func(step int) []float32
	initCalls [][]int
	stepToks  []int
	stepErr   error
}

func (m *fakeModel) VocabSize() int { return m.vocab }

func (m *fakeModel) Initial(_ context.Context, prompt []int) ([]float32, DecodeState, error) {
	m.initCalls = append(m.initCalls, append([]int(nil), prompt...))
	return m.rows(0), 0, nil
}

func (m *fakeModel) Step(_ context.Context, token int, state DecodeState) ([]float32, DecodeState, error) {
	if m.stepErr != nil {
		return nil, nil, m.stepErr
	}
	m.stepToks = append(m.stepToks, token)
	step := state.(int) + 1
	return m.rows(step), step, nil
}

// peakRows makes the draw effectively deterministic: the favored token gets
// a score no other token can compete with after softmax.
func peakRows(vocab int, favored func(step int) int) func(step int) []float32 {
	return func(step int) []float32 {
		row := make([]float32, vocab)
		row[favored(step)] = 100
		return row
	}
}

func flatRows(vocab int) func(step int) []float32 {
	return func(int) []float32 { return make([]float32, vocab) }
}

func openConfig() logits.Config {
	return logits.Config{TopP: 1, Temperature: 1, TFS: 1, RepetitionPenalty: 1, StopToken: -1}
}

func haltAfter(n int) StoppingPolicy {
	return StoppingPolicyFunc(func(_ [][]int, steps int, excluded any) (any, bool, bool, error) {
		return excluded, false, steps >= n, nil
	})
}

func neverHalt() StoppingPolicy {
	return StoppingPolicyFunc(func(_ [][]int, _ int, excluded any) (any, bool, bool, error) {
		return excluded, false, false, nil
	})
}

func wantTokens(t *testing.T, got, want []int) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("token count: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d: got %v want %v", i, got, want)
		}
	}
}

func TestDynamicLockStep(t *testing.T) {
	t.Parallel()
	model := &fakeModel{vocab: 8, rows: peakRows(8, func(step int) int { return step + 1 })}
	c := &Controller{Model: model, Policy: haltAfter(3)}

	res, err := c.RunDynamic(context.Background(), [][]int{{1, 1, 1}, {2, 2, 2}}, 5, rng.New(7), nil)
	if err != nil {
		t.Fatalf("RunDynamic: %v", err)
	}
	if res.Steps != 3 || !res.Halted || res.Regenerate {
		t.Fatalf("got steps=%d halted=%v regenerate=%v", res.Steps, res.Halted, res.Regenerate)
	}
	for i, seq := range res.Sequences {
		if got := seq.Generated(); len(got) != 3 {
			t.Fatalf("sequence %d generated %v, want 3 tokens", i, got)
		} else {
			wantTokens(t, got, []int{1, 2, 3})
		}
	}
	if len(model.initCalls) != 2 {
		t.Fatalf("Initial called %d times, want 2", len(model.initCalls))
	}
	// Two model steps per sequence before the policy halts; every sequence
	// advances at step n before any advances at step n+1.
	wantTokens(t, model.stepToks, []int{1, 1, 2, 2})
}

func TestDynamicRegenerate(t *testing.T) {
	t.Parallel()
	model := &fakeModel{vocab: 8, rows: peakRows(8, func(step int) int { return step + 1 })}
	policy := StoppingPolicyFunc(func(_ [][]int, steps int, excluded any) (any, bool, bool, error) {
		return excluded, steps == 2, false, nil
	})
	c := &Controller{Model: model, Policy: policy}

	res, err := c.RunDynamic(context.Background(), [][]int{{1}}, 5, rng.New(7), nil)
	if err != nil {
		t.Fatalf("RunDynamic: %v", err)
	}
	if res.Steps != 2 || !res.Regenerate || res.Halted {
		t.Fatalf("got steps=%d regenerate=%v halted=%v", res.Steps, res.Regenerate, res.Halted)
	}
	// The rejected step's tokens stay in the buffer; the caller decides
	// what to do with them.
	wantTokens(t, res.Sequences[0].Generated(), []int{1, 2})
}

func TestDynamicExcludedThreading(t *testing.T) {
	t.Parallel()
	model := &fakeModel{vocab: 8, rows: flatRows(8)}
	policy := StoppingPolicyFunc(func(_ [][]int, steps int, excluded any) (any, bool, bool, error) {
		seen := excluded.([]int)
		return append(seen, steps), false, steps >= 3, nil
	})
	c := &Controller{Model: model, Config: FixedConfig(openConfig()), Policy: policy}

	res, err := c.RunDynamic(context.Background(), [][]int{{1}}, 5, rng.New(7), []int{})
	if err != nil {
		t.Fatalf("RunDynamic: %v", err)
	}
	wantTokens(t, res.Excluded.([]int), []int{1, 2, 3})
}

func TestDynamicConfigRereadEveryStep(t *testing.T) {
	t.Parallel()
	src := &countingSource{cfg: openConfig()}
	model := &fakeModel{vocab: 8, rows: flatRows(8)}
	c := &Controller{Model: model, Config: src, Policy: haltAfter(3)}

	if _, err := c.RunDynamic(context.Background(), [][]int{{1}}, 5, rng.New(7), nil); err != nil {
		t.Fatalf("RunDynamic: %v", err)
	}
	if src.reads != 3 {
		t.Fatalf("config read %d times, want once per step (3)", src.reads)
	}
}

type countingSource struct {
	cfg   logits.Config
	reads int
}

func (s *countingSource) Current() logits.Config {
	s.reads++
	return s.cfg
}

func TestDynamicAdjuster(t *testing.T) {
	t.Parallel()
	model := &fakeModel{vocab: 8, rows: flatRows(8)}
	calls := 0
	adjuster := ScoreAdjusterFunc(func(batch [][]float32) ([][]float32, error) {
		calls++
		out := make([][]float32, len(batch))
		for i := range batch {
			row := make([]float32, len(batch[i]))
			row[6] = 100
			out[i] = row
		}
		return out, nil
	})
	c := &Controller{Model: model, Config: FixedConfig(openConfig()), Policy: haltAfter(3), Adjuster: adjuster}

	res, err := c.RunDynamic(context.Background(), [][]int{{1}, {2}}, 5, rng.New(7), nil)
	if err != nil {
		t.Fatalf("RunDynamic: %v", err)
	}
	if calls != 3 {
		t.Fatalf("adjuster called %d times, want once per step (3)", calls)
	}
	for _, seq := range res.Sequences {
		wantTokens(t, seq.Generated(), []int{6, 6, 6})
	}
}

func TestDynamicAdjusterContract(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		adjust ScoreAdjusterFunc
	}{
		{"row count", func(batch [][]float32) ([][]float32, error) {
			return batch[:1], nil
		}},
		{"row length", func(batch [][]float32) ([][]float32, error) {
			out := make([][]float32, len(batch))
			for i := range out {
				out[i] = make([]float32, 3)
			}
			return out, nil
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			model := &fakeModel{vocab: 8, rows: flatRows(8)}
			c := &Controller{Model: model, Config: FixedConfig(openConfig()), Policy: neverHalt(), Adjuster: tc.adjust}
			_, err := c.RunDynamic(context.Background(), [][]int{{1}, {2}}, 5, rng.New(7), nil)
			if !errors.Is(err, ErrContract) {
				t.Fatalf("got %v, want contract violation", err)
			}
		})
	}
}

func TestDynamicModelShapeViolation(t *testing.T) {
	t.Parallel()
	t.Run("initial", func(t *testing.T) {
		model := &fakeModel{vocab: 8, rows: func(int) []float32 { return make([]float32, 4) }}
		c := &Controller{Model: model, Policy: neverHalt()}
		_, err := c.RunDynamic(context.Background(), [][]int{{1}}, 5, rng.New(7), nil)
		if !errors.Is(err, ErrContract) {
			t.Fatalf("got %v, want contract violation", err)
		}
	})
	t.Run("step", func(t *testing.T) {
		model := &fakeModel{vocab: 8, rows: func(step int) []float32 {
			if step == 0 {
				return make([]float32, 8)
			}
			return make([]float32, 4)
		}}
		c := &Controller{Model: model, Config: FixedConfig(openConfig()), Policy: neverHalt()}
		_, err := c.RunDynamic(context.Background(), [][]int{{1}}, 5, rng.New(7), nil)
		if !errors.Is(err, ErrContract) {
			t.Fatalf("got %v, want contract violation", err)
		}
	})
}

func TestDynamicLengthExhaustion(t *testing.T) {
	t.Parallel()
	model := &fakeModel{vocab: 8, rows: flatRows(8)}
	c := &Controller{Model: model, Config: FixedConfig(openConfig()), Policy: neverHalt()}

	res, err := c.RunDynamic(context.Background(), [][]int{{1, 2}}, 4, rng.New(7), nil)
	if err != nil {
		t.Fatalf("RunDynamic: %v", err)
	}
	if res.Steps != 4 || res.Halted || res.Regenerate {
		t.Fatalf("got steps=%d halted=%v regenerate=%v", res.Steps, res.Halted, res.Regenerate)
	}
	if !res.Sequences[0].full() {
		t.Fatal("buffer should be exhausted")
	}
}

func TestDynamicPolicyError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	model := &fakeModel{vocab: 8, rows: flatRows(8)}
	policy := StoppingPolicyFunc(func(_ [][]int, _ int, excluded any) (any, bool, bool, error) {
		return excluded, false, false, boom
	})
	c := &Controller{Model: model, Config: FixedConfig(openConfig()), Policy: policy}
	_, err := c.RunDynamic(context.Background(), [][]int{{1}}, 5, rng.New(7), nil)
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want wrapped policy error", err)
	}
}

func TestDynamicArgumentChecks(t *testing.T) {
	t.Parallel()
	model := &fakeModel{vocab: 8, rows: flatRows(8)}
	tests := []struct {
		name string
		c    *Controller
		ctxs [][]int
		gen  int
	}{
		{"nil model", &Controller{Policy: neverHalt()}, [][]int{{1}}, 5},
		{"nil policy", &Controller{Model: model}, [][]int{{1}}, 5},
		{"no contexts", &Controller{Model: model, Policy: neverHalt()}, nil, 5},
		{"zero maxGen", &Controller{Model: model, Policy: neverHalt()}, [][]int{{1}}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.c.RunDynamic(context.Background(), tc.ctxs, tc.gen, rng.New(7), nil)
			if !errors.Is(err, ErrContract) {
				t.Fatalf("got %v, want contract violation", err)
			}
		})
	}
}

func TestDynamicCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	model := &fakeModel{vocab: 8, rows: flatRows(8)}
	policy := StoppingPolicyFunc(func(_ [][]int, steps int, excluded any) (any, bool, bool, error) {
		if steps == 2 {
			cancel()
		}
		return excluded, false, false, nil
	})
	c := &Controller{Model: model, Config: FixedConfig(openConfig()), Policy: policy}

	res, err := c.RunDynamic(ctx, [][]int{{1}}, 10, rng.New(7), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if res.Steps != 2 {
		t.Fatalf("completed steps before cancellation: got %d want 2", res.Steps)
	}
}

func TestDynamicDeterminism(t *testing.T) {
	t.Parallel()
	run := func() [][]int {
		model := &fakeModel{vocab: 16, rows: flatRows(16)}
		c := &Controller{Model: model, Config: FixedConfig(openConfig()), Policy: neverHalt()}
		res, err := c.RunDynamic(context.Background(), [][]int{{1, 2}, {3, 4}}, 6, rng.New(99), nil)
		if err != nil {
			t.Fatalf("RunDynamic: %v", err)
		}
		out := make([][]int, len(res.Sequences))
		for i, seq := range res.Sequences {
			out[i] = seq.Generated()
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		wantTokens(t, b[i], a[i])
	}
}
