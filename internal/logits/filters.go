package logits

import (
	"math"
	"sort"
)

var negInf = float32(math.Inf(-1))

// ApplyFilters runs the four truncation filters over the score vector in
// their fixed order: top-k, then top-p, then tail-free sampling, then
// temperature. Each filter is a total function over the whole vector (no
// early returns), so the dynamic and static generation paths share these
// implementations and produce identical numerics.
func ApplyFilters(scores []float32, cfg Config) {
	if cfg.TopK > 0 {
		topK(scores, cfg.TopK)
	}
	if cfg.TopP < 1 {
		topP(scores, cfg.TopP)
	}
	if cfg.TFS < 1 {
		tailFree(scores, cfg.TFS)
	}
	temperature(scores, cfg.Temperature)
}

// rankOrder returns token indices sorted by descending score. The sort is
// stable with ties broken by original index; which near-threshold token
// survives a filter depends on this order, so it must not change.
func rankOrder(scores []float32) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	return order
}

// rankedProbs computes softmax probabilities of the scores taken in rank
// order. Entries already masked to -inf contribute zero mass.
func rankedProbs(scores []float32, order []int) []float64 {
	probs := make([]float64, len(order))
	if len(order) == 0 {
		return probs
	}
	maxv := float64(scores[order[0]])
	if math.IsInf(maxv, -1) {
		return probs
	}
	var sum float64
	for r, idx := range order {
		v := float64(scores[idx])
		if math.IsInf(v, -1) {
			continue
		}
		e := math.Exp(v - maxv)
		probs[r] = e
		sum += e
	}
	if sum > 0 {
		for r := range probs {
			probs[r] /= sum
		}
	}
	return probs
}

// topK keeps the k highest-scoring tokens and masks the rest.
func topK(scores []float32, k int) {
	if k >= len(scores) {
		return
	}
	order := rankOrder(scores)
	for r := k; r < len(order); r++ {
		scores[order[r]] = negInf
	}
}

// topP masks every token whose cumulative probability mass, in rank order,
// exceeds p. The top-ranked token always survives, even when its
// probability alone exceeds p.
func topP(scores []float32, p float32) {
	order := rankOrder(scores)
	probs := rankedProbs(scores, order)
	var cum float64
	for r, idx := range order {
		cum += probs[r]
		if r > 0 && cum > float64(p) {
			scores[idx] = negInf
		}
	}
}

// tailFree masks tokens past the "tail" of the probability curve: the
// absolute discrete second derivative of the ranked probabilities is
// renormalized to sum to 1, and tokens whose cumulative share exceeds the
// tfs threshold are dropped. The two highest ranks lost to differencing are
// always dropped; the top-ranked token never is.
func tailFree(scores []float32, tfs float32) {
	order := rankOrder(scores)
	n := len(order)
	if n <= 2 {
		return
	}
	probs := rankedProbs(scores, order)

	d2 := make([]float64, n-2)
	var sum float64
	for r := 0; r < n-2; r++ {
		v := (probs[r+2] - probs[r+1]) - (probs[r+1] - probs[r])
		if v < 0 {
			v = -v
		}
		d2[r] = v
		sum += v
	}
	if sum > 0 {
		for r := range d2 {
			d2[r] /= sum
		}
	}

	var cum float64
	for r := 0; r < n-2; r++ {
		cum += d2[r]
		if r > 0 && cum > float64(tfs) {
			scores[order[r]] = negInf
		}
	}
	scores[order[n-2]] = negInf
	scores[order[n-1]] = negInf
}

// temperature divides every score by temp. Masked entries stay -inf.
func temperature(scores []float32, temp float32) {
	for i := range scores {
		scores[i] /= temp
	}
}

// MaskTokens sets the scores of the given token ids to -inf so they can
// never be drawn. Out-of-range ids are ignored.
func MaskTokens(scores []float32, tokens []int) {
	for _, id := range tokens {
		if id >= 0 && id < len(scores) {
			scores[id] = negInf
		}
	}
}

// countMasked reports how many scores are non-finite.
func countMasked(scores []float32) int {
	n := 0
	for _, v := range scores {
		if math.IsInf(float64(v), 0) || math.IsNaN(float64(v)) {
			n++
		}
	}
	return n
}
