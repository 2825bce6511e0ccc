package decode

import "fmt"

// Sequence is the mutable per-sequence record owned by the loop controller:
// the generated buffer, its write cursor, the last emitted token, and the
// opaque decode state.
//
// The buffer has fixed capacity contextLen+maxGen. Positions below the
// cursor hold context tokens or sampled tokens; positions at or past the
// cursor hold PAD until written. The cursor starts at contextLen and
// advances by exactly one per accepted token.
type Sequence struct {
	buf        []int
	contextLen int
	cursor     int
	last       int
	pad        int
	state      DecodeState
}

func newSequence(prompt []int, maxGen, pad int) *Sequence {
	buf := make([]int, len(prompt)+maxGen)
	copy(buf, prompt)
	for i := len(prompt); i < len(buf); i++ {
		buf[i] = pad
	}
	last := pad
	if len(prompt) > 0 {
		last = prompt[len(prompt)-1]
	}
	return &Sequence{
		buf:        buf,
		contextLen: len(prompt),
		cursor:     len(prompt),
		last:       last,
		pad:        pad,
	}
}

// append records a sampled token at the cursor and advances it.
func (s *Sequence) append(tok int) error {
	if s.cursor >= len(s.buf) {
		return fmt.Errorf("%w: generated buffer overflow (cap %d)", ErrContract, len(s.buf))
	}
	s.buf[s.cursor] = tok
	s.cursor++
	s.last = tok
	return nil
}

// full reports whether the buffer has no room for another token.
func (s *Sequence) full() bool {
	return s.cursor >= len(s.buf)
}

// generatedLen is the number of tokens sampled so far.
func (s *Sequence) generatedLen() int {
	return s.cursor - s.contextLen
}

// Tokens returns a copy of the whole buffer, PAD tail included.
func (s *Sequence) Tokens() []int {
	out := make([]int, len(s.buf))
	copy(out, s.buf)
	return out
}

// Generated returns a copy of the sampled suffix [contextLen, cursor).
func (s *Sequence) Generated() []int {
	out := make([]int, s.generatedLen())
	copy(out, s.buf[s.contextLen:s.cursor])
	return out
}

// Cursor returns the next write position.
func (s *Sequence) Cursor() int { return s.cursor }

// ContextLen returns the length of the prompt part of the buffer.
func (s *Sequence) ContextLen() int { return s.contextLen }

// Last returns the most recently written token.
func (s *Sequence) Last() int { return s.last }
