package tokenizer

import (
	"fmt"

	"github.com/modelhost/modelhost/pkg/gguf"
)

// FromGGUF builds the Vocabulary and selects a strategy from a parsed
// GGUF file's tokenizer.* metadata keys (spec.md §4.8's "builds
// tokenizer from embedded vocabulary").
func FromGGUF(f *gguf.File) (Tokenizer, error) {
	vocab := Vocabulary{
		Tokens:   stringArray(f.Metadata["tokenizer.ggml.tokens"]),
		Merges:   stringArray(f.Metadata["tokenizer.ggml.merges"]),
		Scores:   float32Array(f.Metadata["tokenizer.ggml.scores"]),
		BOS:      TokenID(f.Uint("tokenizer.ggml.bos_token_id")),
		EOS:      TokenID(f.Uint("tokenizer.ggml.eos_token_id")),
		UnkToken: unkToken(f),
	}
	if len(vocab.Tokens) == 0 {
		return nil, fmt.Errorf("tokenizer: gguf file has no tokenizer.ggml.tokens")
	}

	vocabType := f.String("tokenizer.ggml.model")
	if vocabType == "" {
		vocabType = "sentencepiece"
	}
	return ForFamily(vocabType, vocab)
}

func unkToken(f *gguf.File) string {
	id := f.Uint("tokenizer.ggml.unknown_token_id")
	tokens := stringArray(f.Metadata["tokenizer.ggml.tokens"])
	if int(id) < len(tokens) {
		return tokens[id]
	}
	return ""
}

func stringArray(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func float32Array(v any) []float32 {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(arr))
	for _, e := range arr {
		if f, ok := e.(float64); ok {
			out = append(out, float32(f))
		}
	}
	return out
}
