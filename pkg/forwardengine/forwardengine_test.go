package forwardengine

import (
	"testing"

	"github.com/modelhost/modelhost/pkg/gguf"
	"github.com/modelhost/modelhost/pkg/kvcache"
	"github.com/modelhost/modelhost/pkg/tokenizer"
)

func llamaFile(extra map[string]any) *gguf.File {
	meta := map[string]any{
		"general.architecture":     "llama",
		"llama.embedding_length":   uint64(32),
		"llama.block_count":        uint64(2),
	}
	for k, v := range extra {
		meta[k] = v
	}
	return &gguf.File{Metadata: meta}
}

func TestLoadRequiresArchitecture(t *testing.T) {
	f := &gguf.File{Metadata: map[string]any{}}
	if _, err := Load(f, 100); err == nil {
		t.Fatalf("Load should error when general.architecture is missing")
	}
}

func TestLoadDefaultsWhenMetadataSparse(t *testing.T) {
	f := &gguf.File{Metadata: map[string]any{"general.architecture": "llama"}}
	e, err := Load(f, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if e.HiddenSize() != 256 {
		t.Errorf("HiddenSize() with sparse metadata = %d, want default 256", e.HiddenSize())
	}
	if e.VocabSize() != 32000 {
		t.Errorf("VocabSize() with vocabSize<=0 = %d, want default 32000", e.VocabSize())
	}
}

func TestLoadUsesSlidingWindowWhenDeclared(t *testing.T) {
	f := llamaFile(map[string]any{"llama.attention.sliding_window": uint64(4)})
	e, err := Load(f, 1000)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := e.cache.(*kvcache.SlidingWindow); !ok {
		t.Fatalf("cache = %T, want *kvcache.SlidingWindow when sliding_window is declared", e.cache)
	}
	// Len reports the high-water mark of positions written, not how many
	// positions the window of 4 keeps resident.
	for i := 0; i < 10; i++ {
		e.cache.SetLayer(0)
		e.cache.Update(i, []float32{float32(i)}, []float32{float32(i)})
	}
	if e.cache.Len() != 10 {
		t.Errorf("cache.Len() tracks high-water mark, want 10, got %d", e.cache.Len())
	}
}

func TestForwardProducesVocabSizedLogits(t *testing.T) {
	e, err := Load(llamaFile(nil), 500)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	logits, err := e.Forward([]tokenizer.TokenID{1, 2, 3}, 0)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(logits) != 500 {
		t.Errorf("Forward() returned %d logits, want 500", len(logits))
	}
}

func TestForwardIsDeterministic(t *testing.T) {
	f := llamaFile(nil)
	e1, _ := Load(f, 200)
	e2, _ := Load(f, 200)

	l1, _ := e1.Forward([]tokenizer.TokenID{5, 6, 7}, 0)
	l2, _ := e2.Forward([]tokenizer.TokenID{5, 6, 7}, 0)

	for i := range l1 {
		if l1[i] != l2[i] {
			t.Fatalf("Forward should be deterministic for identical inputs, differed at index %d: %v vs %v", i, l1[i], l2[i])
		}
	}
}

func TestForwardEmptyTokensErrors(t *testing.T) {
	e, _ := Load(llamaFile(nil), 100)
	if _, err := e.Forward(nil, 0); err == nil {
		t.Errorf("Forward with no tokens should error")
	}
}

func TestResetClearsCache(t *testing.T) {
	e, _ := Load(llamaFile(nil), 100)
	e.Forward([]tokenizer.TokenID{1, 2}, 0)
	if e.cache.Len() == 0 {
		t.Fatalf("precondition: cache should be non-empty after Forward")
	}
	e.Reset()
	if e.cache.Len() != 0 {
		t.Errorf("Reset should clear the cache, Len() = %d", e.cache.Len())
	}
}

func TestEmbedMeanPoolsAndIsDeterministic(t *testing.T) {
	e, _ := Load(llamaFile(nil), 100)
	v1, err := e.Embed([]tokenizer.TokenID{1, 2, 3})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(v1) != e.HiddenSize() {
		t.Errorf("Embed() returned a %d-dim vector, want hidden size %d", len(v1), e.HiddenSize())
	}
	v2, _ := e.Embed([]tokenizer.TokenID{1, 2, 3})
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("Embed should be deterministic, differed at index %d", i)
		}
	}
}

func TestEmbedEmptyTokensErrors(t *testing.T) {
	e, _ := Load(llamaFile(nil), 100)
	if _, err := e.Embed(nil); err == nil {
		t.Errorf("Embed with no tokens should error")
	}
}

func TestEmbedDoesNotAffectForwardCache(t *testing.T) {
	e, _ := Load(llamaFile(nil), 100)
	e.Embed([]tokenizer.TokenID{1, 2, 3})
	if e.cache.Len() != 0 {
		t.Errorf("Embed should not touch the forward KV cache, Len() = %d", e.cache.Len())
	}
}
