package tokenizer

import (
	"testing"

	"github.com/modelhost/modelhost/pkg/gguf"
)

func TestFromGGUFBuildsVocabularyAndDispatches(t *testing.T) {
	f := &gguf.File{Metadata: map[string]any{
		"tokenizer.ggml.model":  "gpt2",
		"tokenizer.ggml.tokens": []any{"a", "b", "c"},
		"tokenizer.ggml.merges": []any{"a b"},
		"tokenizer.ggml.bos_token_id": uint64(0),
		"tokenizer.ggml.eos_token_id": uint64(1),
	}}
	tok, err := FromGGUF(f)
	if err != nil {
		t.Fatalf("FromGGUF: %v", err)
	}
	if tok.VocabSize() != 3 {
		t.Errorf("VocabSize() = %d, want 3", tok.VocabSize())
	}
}

func TestFromGGUFDefaultsToSentencePieceWhenModelUnset(t *testing.T) {
	f := &gguf.File{Metadata: map[string]any{
		"tokenizer.ggml.tokens": []any{"▁a", "▁b"},
	}}
	tok, err := FromGGUF(f)
	if err != nil {
		t.Fatalf("FromGGUF: %v", err)
	}
	if _, ok := tok.(*sentencePieceTokenizer); !ok {
		t.Errorf("FromGGUF with no tokenizer.ggml.model should default to sentencepiece, got %T", tok)
	}
}

func TestFromGGUFRequiresTokens(t *testing.T) {
	f := &gguf.File{Metadata: map[string]any{"tokenizer.ggml.model": "gpt2"}}
	if _, err := FromGGUF(f); err == nil {
		t.Errorf("FromGGUF with no tokenizer.ggml.tokens should error")
	}
}

func TestUnkTokenResolvesFromTokenList(t *testing.T) {
	f := &gguf.File{Metadata: map[string]any{
		"tokenizer.ggml.tokens":          []any{"[UNK]", "a", "b"},
		"tokenizer.ggml.unknown_token_id": uint64(0),
	}}
	if got := unkToken(f); got != "[UNK]" {
		t.Errorf("unkToken() = %q, want %q", got, "[UNK]")
	}
}

func TestUnkTokenOutOfRangeReturnsEmpty(t *testing.T) {
	f := &gguf.File{Metadata: map[string]any{
		"tokenizer.ggml.tokens":          []any{"a"},
		"tokenizer.ggml.unknown_token_id": uint64(50),
	}}
	if got := unkToken(f); got != "" {
		t.Errorf("unkToken() out of range = %q, want empty", got)
	}
}

func TestStringArrayIgnoresNonStringEntries(t *testing.T) {
	got := stringArray([]any{"a", 5, "b"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("stringArray = %v, want [a b]", got)
	}
}

func TestFloat32ArrayConvertsFloat64Entries(t *testing.T) {
	got := float32Array([]any{float64(1.5), float64(2.5)})
	if len(got) != 2 || got[0] != 1.5 || got[1] != 2.5 {
		t.Errorf("float32Array = %v, want [1.5 2.5]", got)
	}
}
