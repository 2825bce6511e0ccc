// Package toy provides a tiny deterministic language model for exercising
// the sampling and generation loops without real model weights. Scores come
// from an embedding lookup, a decaying hidden state, and a projection back
// to the vocabulary, so consecutive steps are related but cheap to compute.
package toy

import (
	"context"
	"fmt"

	"github.com/samcharles93/loom/internal/decode"
	"github.com/samcharles93/loom/internal/rng"
)

// Model is a fixed-weight toy language model. Its decode state is the
// hidden activation vector, replaced wholesale on every step.
type Model struct {
	vocab  int
	hidden int
	emb    [][]float32 // vocab x hidden
	proj   [][]float32 // hidden x vocab
}

// New builds a model with weights derived deterministically from seed.
func New(vocab, hidden int, seed int64) *Model {
	m := &Model{
		vocab:  vocab,
		hidden: hidden,
		emb:    fillMatrix(vocab, hidden, rng.New(seed)),
		proj:   fillMatrix(hidden, vocab, rng.New(seed+1)),
	}
	return m
}

func fillMatrix(rows, cols int, key rng.Stream) [][]float32 {
	mat := make([][]float32, rows)
	for i := range mat {
		row := make([]float32, cols)
		use, carry := key.Split()
		key = carry
		for j := range row {
			sub, next := use.Split()
			use = next
			row[j] = float32(sub.Float64()*2 - 1)
		}
		mat[i] = row
	}
	return mat
}

func (m *Model) VocabSize() int { return m.vocab }

// Initial folds the whole prompt into the hidden state and scores the first
// generation step.
func (m *Model) Initial(ctx context.Context, prompt []int) ([]float32, decode.DecodeState, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if len(prompt) == 0 {
		return nil, nil, fmt.Errorf("toy: empty prompt")
	}
	h := make([]float32, m.hidden)
	for _, tok := range prompt {
		m.absorb(h, tok)
	}
	return m.project(h), h, nil
}

// Step folds one more token into the hidden state and scores the next step.
func (m *Model) Step(ctx context.Context, token int, state decode.DecodeState) ([]float32, decode.DecodeState, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	prev, ok := state.([]float32)
	if !ok || len(prev) != m.hidden {
		return nil, nil, fmt.Errorf("toy: unexpected decode state %T", state)
	}
	h := make([]float32, m.hidden)
	copy(h, prev)
	m.absorb(h, token)
	return m.project(h), h, nil
}

// absorb mixes a token embedding into the hidden state with exponential
// decay, so recent tokens dominate.
func (m *Model) absorb(h []float32, tok int) {
	tok = tok % m.vocab
	if tok < 0 {
		tok += m.vocab
	}
	row := m.emb[tok]
	for i := range h {
		h[i] = 0.5*h[i] + row[i]
	}
}

func (m *Model) project(h []float32) []float32 {
	scores := make([]float32, m.vocab)
	for i, hi := range h {
		row := m.proj[i]
		for j := range scores {
			scores[j] += hi * row[j]
		}
	}
	return scores
}
