package logits

// ApplyRepetitionPenalty penalizes, in place, every score whose token id
// occurs inside the penalty window of the generated buffer.
//
// The window covers the rpRange buffer positions immediately preceding
// cursor (all of them when rpRange <= 0, including the PAD tail). For a
// buffer of length n, position i maps to the window offset
//
//	((i - cursor) mod n) + rpRange - n
//
// and is penalized only when the offset is >= 0. With a nonzero slope the
// penalty strength ramps across the window: offset 0 (the oldest in-scope
// position) gets no penalty, offset rpRange-1 (the most recent) the full
// penalty.
//
// Positive scores are divided by the penalty and negative scores are
// multiplied by it. Dividing a negative score would make the token more
// likely, which is the opposite of what a penalty should do.
//
// Each occurrence is recomputed from the pre-penalty score and written back,
// so when a token id occurs several times inside the window the last
// occurrence wins; occurrences never compound.
func ApplyRepetitionPenalty(scores []float32, generated []int, penalty float32, cursor int, slope float32, rpRange int) {
	n := len(generated)
	if n == 0 || penalty == 1 {
		return
	}
	r := rpRange
	if r <= 0 {
		r = n
	}
	sloped := slope != 0 && rpRange > 1

	var orig map[int]float32
	for i, tok := range generated {
		if tok < 0 {
			continue
		}
		if tok >= len(scores) {
			tok = len(scores) - 1
		}
		off := ((i-cursor)%n+n)%n + r - n
		if off < 0 {
			continue
		}

		eff := penalty
		if sloped {
			p := float32(off)/float32(rpRange-1)*2 - 1
			w := (slope * p) / (1 + abs32(p)*(slope-1))
			eff = 1 + (w+1)/2*(penalty-1)
		}

		if orig == nil {
			orig = make(map[int]float32)
		}
		v, ok := orig[tok]
		if !ok {
			v = scores[tok]
			orig[tok] = v
		}
		if v > 0 {
			scores[tok] = v / eff
		} else {
			scores[tok] = v * eff
		}
	}
}

func abs32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
