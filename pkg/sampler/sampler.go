// Package sampler implements the default sampling pipeline from
// spec.md §4.8: temperature, top-k, top-p (nucleus), repetition
// penalty, then a categorical draw from a seeded PRNG. The pipeline
// shape (temperature divide, top-k truncate, top-p cutoff on a sorted
// list, softmax-weighted draw) is grounded on
// original_source/src/sample/mod.rs's Sampler::sample; the seeded
// source is grounded on original_source/src/rng.rs's linear
// congruential generator, translated to a math/rand/v2 source per
// SPEC_FULL.md §12.
package sampler

import (
	"math"
	"math/rand/v2"
	"sort"
)

// Options are the per-request numeric parameters spec.md §4.8
// specifies as "all numeric parameters are per-request."
type Options struct {
	Temperature       float32 // 0 means argmax short-circuit
	TopK              int     // default 40
	TopP              float32 // default 0.9
	RepetitionPenalty float32 // rho, divides logits of recently-seen tokens
	Seed              uint64  // 0 means random
}

func DefaultOptions() Options {
	return Options{Temperature: 0.8, TopK: 40, TopP: 0.9, RepetitionPenalty: 1.1}
}

// Source draws uniform floats in [0,1) — an interface so a request's
// seed can be swapped in deterministically.
type Source interface {
	Float64() float64
}

// NewSource returns a seeded source, or one seeded from process
// entropy when seed is 0 (spec.md §4.8: "0 ⇒ random").
func NewSource(seed uint64) Source {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

type candidate struct {
	id    int
	logit float32
}

// Sample draws one token id from logits, given the ids of the last n
// generated tokens (for repetition penalty). It mutates a scratch copy
// of logits, never the caller's slice.
func Sample(logits []float32, recent []int, opts Options, src Source) int {
	scratch := make([]float32, len(logits))
	copy(scratch, logits)

	if opts.RepetitionPenalty != 0 && opts.RepetitionPenalty != 1 {
		seen := make(map[int]bool, len(recent))
		for _, id := range recent {
			seen[id] = true
		}
		for id := range scratch {
			if seen[id] {
				scratch[id] /= opts.RepetitionPenalty
			}
		}
	}

	if opts.Temperature <= 0 {
		return argmax(scratch)
	}
	for i := range scratch {
		scratch[i] /= opts.Temperature
	}

	candidates := make([]candidate, len(scratch))
	for i, l := range scratch {
		candidates[i] = candidate{id: i, logit: l}
	}
	sort.Slice(candidates, func(a, b int) bool { return candidates[a].logit > candidates[b].logit })

	k := opts.TopK
	if k <= 0 || k > len(candidates) {
		k = len(candidates)
	}
	candidates = candidates[:k]

	if opts.TopP > 0 && opts.TopP < 1 {
		candidates = nucleusFilter(candidates, opts.TopP)
	}

	return drawFrom(candidates, src)
}

func argmax(logits []float32) int {
	best, bestVal := 0, logits[0]
	for i, l := range logits {
		if l > bestVal {
			best, bestVal = i, l
		}
	}
	return best
}

// nucleusFilter keeps the smallest prefix of the (already
// logit-descending) candidates whose softmax mass is >= p.
func nucleusFilter(candidates []candidate, p float32) []candidate {
	maxLogit := candidates[0].logit
	probs := make([]float32, len(candidates))
	var total float32
	for i, c := range candidates {
		e := float32(math.Exp(float64(c.logit - maxLogit)))
		probs[i] = e
		total += e
	}

	cum := float32(0)
	cut := len(candidates)
	for i, pr := range probs {
		cum += pr / total
		if cum >= p {
			cut = i + 1
			break
		}
	}
	return candidates[:cut]
}

// drawFrom performs a softmax-weighted categorical draw over
// candidates using src.
func drawFrom(candidates []candidate, src Source) int {
	if len(candidates) == 0 {
		return 0
	}
	maxLogit := candidates[0].logit
	weights := make([]float32, len(candidates))
	var total float32
	for i, c := range candidates {
		w := float32(math.Exp(float64(c.logit - maxLogit)))
		weights[i] = w
		total += w
	}

	r := float32(src.Float64()) * total
	cum := float32(0)
	for i, w := range weights {
		cum += w
		if cum >= r {
			return candidates[i].id
		}
	}
	return candidates[len(candidates)-1].id
}
