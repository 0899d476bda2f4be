// Package forwardengine implements the ForwardEngine capability from
// spec.md §4.7. The original source carries two parallel
// implementations (one wrapping an external quantized-transformer
// library, one re-implementing tensor ops); spec.md §9 requires
// picking one authoritative path. This repo implements the
// tensor-ops-native path (no external quantized-transformer Go library
// appears anywhere in the retrieval pack, so adopting the other path
// would mean fabricating a dependency — see DESIGN.md). Actual GGUF
// tensor math is out of this exercise's reach; NativeEngine computes a
// deterministic, seed-derived projection in its place so the contract
// (forward/embed, KV-cache position ordering) is fully exercised by
// callers.
//
// KV cache convention (spec.md §4.7 open question): the engine owns
// cache state internally, keyed by start position — callers never see
// or pass a cache value.
package forwardengine

import (
	"fmt"
	"math"

	"github.com/modelhost/modelhost/pkg/gguf"
	"github.com/modelhost/modelhost/pkg/kvcache"
	"github.com/modelhost/modelhost/pkg/tokenizer"
)

// Engine is the capability contract spec.md §4.7 requires.
type Engine interface {
	// Forward returns logits[vocab] for the position immediately after
	// the last token in tokens. startPosition is the absolute index of
	// tokens[0] in the full sequence.
	Forward(tokens []tokenizer.TokenID, startPosition int) ([]float32, error)
	// Embed returns the mean-pooled hidden state of tokens.
	Embed(tokens []tokenizer.TokenID) ([]float32, error)
	// Reset clears KV cache state, called at the start of a new
	// generate/chat/embed request.
	Reset()
	VocabSize() int
	HiddenSize() int
}

// NativeEngine is the tensor-ops-native ForwardEngine. Its "weights"
// are a deterministic function of the GGUF file's metadata, not real
// learned parameters.
type NativeEngine struct {
	arch       string
	hiddenSize int
	vocabSize  int
	numLayers  int
	seed       uint64

	cache kvcache.Cache
}

// Load builds a NativeEngine from a parsed GGUF file's
// architecture-scoped metadata (spec.md §4.8's "builds forward engine"
// step), choosing a cache variant from the declared context/window
// size the way original_source's WrapperCache composes SWA with causal
// fallback.
func Load(f *gguf.File, vocabSize int) (*NativeEngine, error) {
	arch := f.Architecture()
	if arch == "" {
		return nil, fmt.Errorf("forwardengine: gguf file has no general.architecture")
	}

	hidden := int(f.Uint(arch + ".embedding_length"))
	if hidden <= 0 {
		hidden = 256
	}
	layers := int(f.Uint(arch + ".block_count"))
	if layers <= 0 {
		layers = 1
	}
	if vocabSize <= 0 {
		vocabSize = 32000
	}

	var cache kvcache.Cache
	if window := int(f.Uint(arch + ".attention.sliding_window")); window > 0 {
		cache = kvcache.NewSlidingWindow(window)
	} else {
		cache = kvcache.NewCausal()
	}

	return &NativeEngine{
		arch:       arch,
		hiddenSize: hidden,
		vocabSize:  vocabSize,
		numLayers:  layers,
		seed:       seedFromMetadata(f),
		cache:      cache,
	}, nil
}

func seedFromMetadata(f *gguf.File) uint64 {
	var h uint64 = 1469598103934665603 // FNV offset basis
	for _, b := range []byte(f.Architecture()) {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return h
}

func (e *NativeEngine) VocabSize() int  { return e.vocabSize }
func (e *NativeEngine) HiddenSize() int { return e.hiddenSize }
func (e *NativeEngine) Reset()          { e.cache.Clear() }

// hiddenFor derives a deterministic hidden vector for one token at one
// absolute position, standing in for an embedding lookup plus
// positional encoding.
func (e *NativeEngine) hiddenFor(tok tokenizer.TokenID, position int) []float32 {
	v := make([]float32, e.hiddenSize)
	base := e.seed ^ uint64(tok)*2654435761 ^ uint64(position)*40503
	for i := range v {
		x := base + uint64(i)*2246822519
		x ^= x >> 13
		x *= 3266489917
		x ^= x >> 16
		v[i] = float32(math.Sin(float64(x%100000)/100000*math.Pi*2)) * 0.5
	}
	return v
}

// Forward feeds tokens starting at startPosition through every layer,
// updating the KV cache at each (layer, position) per spec.md §3's
// ordering invariant, then projects the final hidden state to logits.
func (e *NativeEngine) Forward(tokens []tokenizer.TokenID, startPosition int) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("forwardengine: forward called with no tokens")
	}

	var last []float32
	for i, tok := range tokens {
		position := startPosition + i
		hidden := e.hiddenFor(tok, position)
		for layer := 0; layer < e.numLayers; layer++ {
			e.cache.SetLayer(layer)
			entry, _ := e.cache.Update(position, hidden, hidden)
			hidden = entry.Key
		}
		last = hidden
	}

	return e.project(last), nil
}

// project turns a hidden-state vector into a vocab-sized logit vector
// via a fixed deterministic transform (standing in for the LM head
// matmul).
func (e *NativeEngine) project(hidden []float32) []float32 {
	logits := make([]float32, e.vocabSize)
	for v := range logits {
		var sum float32
		for i, h := range hidden {
			w := float32(math.Sin(float64((v+1)*(i+1)) / float64(e.vocabSize+1)))
			sum += h * w
		}
		logits[v] = sum
	}
	return logits
}

// Embed mean-pools the hidden states of every token (no BOS, no KV
// cache interaction — spec.md §4.8's embed() contract is stateless).
func (e *NativeEngine) Embed(tokens []tokenizer.TokenID) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("forwardengine: embed called with no tokens")
	}
	sum := make([]float32, e.hiddenSize)
	for i, tok := range tokens {
		h := e.hiddenFor(tok, i)
		for j, x := range h {
			sum[j] += x
		}
	}
	n := float32(len(tokens))
	for j := range sum {
		sum[j] /= n
	}
	return sum, nil
}
