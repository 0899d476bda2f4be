package tokenizer

import (
	"regexp"
	"strings"
)

// bpeTokenizer is byte-level BPE: text is pre-tokenized with a regex,
// each chunk byte-encoded into a printable alphabet, then merged
// greedily by lowest merge rank until no pair in the merge table
// remains — grounded on original_source/src/core/tokenizer/bpe.rs.
type bpeTokenizer struct {
	vocab   Vocabulary
	encoder map[string]TokenID
	decoder map[TokenID]string
	ranks   map[pair]int

	byteEncoder map[byte]rune
	byteDecoder map[rune]byte

	pattern *regexp.Regexp
}

type pair struct{ a, b string }

// preTokenizePattern approximates GPT-2's pre-tokenization regex; Go's
// RE2 lacks lookahead, so the trailing "\s+(?!\S)" alternative from the
// original is folded into a plain "\s+" — the original's ordering
// already prefers the more specific alternatives first.
var preTokenizePattern = regexp.MustCompile(`(?i:'s|'t|'re|'ve|'m|'ll|'d)|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s+`)

func newBPE(vocab Vocabulary) *bpeTokenizer {
	t := &bpeTokenizer{
		vocab:       vocab,
		encoder:     make(map[string]TokenID, len(vocab.Tokens)),
		decoder:     make(map[TokenID]string, len(vocab.Tokens)),
		ranks:       make(map[pair]int, len(vocab.Merges)),
		byteEncoder: buildByteEncoder(),
		pattern:     preTokenizePattern,
	}
	t.byteDecoder = make(map[rune]byte, len(t.byteEncoder))
	for b, r := range t.byteEncoder {
		t.byteDecoder[r] = b
	}
	for i, tok := range vocab.Tokens {
		id := TokenID(i)
		t.encoder[tok] = id
		t.decoder[id] = tok
	}
	for i, merge := range vocab.Merges {
		parts := strings.SplitN(merge, " ", 2)
		if len(parts) == 2 {
			t.ranks[pair{parts[0], parts[1]}] = i
		}
	}
	return t
}

// buildByteEncoder maps every byte value to a printable rune, the same
// ranges as GPT-2's bytes_to_unicode: printable ASCII and two Latin-1
// ranges map to themselves, the rest map to codepoints starting at 256.
func buildByteEncoder() map[byte]rune {
	m := make(map[byte]rune, 256)
	offset := rune(256)
	addRange := func(start, end byte) {
		for b := int(start); b <= int(end); b++ {
			m[byte(b)] = rune(b)
		}
	}
	addRange('!', '~')
	addRange(0xA1, 0xAC)
	addRange(0xAE, 0xFF)
	for b := 0; b < 256; b++ {
		if _, ok := m[byte(b)]; !ok {
			m[byte(b)] = offset
			offset++
		}
	}
	return m
}

func (t *bpeTokenizer) byteEncode(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		sb.WriteRune(t.byteEncoder[s[i]])
	}
	return sb.String()
}

func (t *bpeTokenizer) byteDecode(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if b, ok := t.byteDecoder[r]; ok {
			sb.WriteByte(b)
		}
	}
	return sb.String()
}

func (t *bpeTokenizer) bpe(encoded string) []string {
	word := strings.Split(encoded, "")
	if len(word) < 2 {
		return word
	}
	for {
		bestRank := -1
		bestIdx := -1
		for i := 0; i < len(word)-1; i++ {
			if rank, ok := t.ranks[pair{word[i], word[i+1]}]; ok {
				if bestRank == -1 || rank < bestRank {
					bestRank = rank
					bestIdx = i
				}
			}
		}
		if bestIdx == -1 {
			break
		}
		merged := word[bestIdx] + word[bestIdx+1]
		next := make([]string, 0, len(word)-1)
		next = append(next, word[:bestIdx]...)
		next = append(next, merged)
		next = append(next, word[bestIdx+2:]...)
		word = next
	}
	return word
}

func (t *bpeTokenizer) Encode(text string, opts EncodeOptions) ([]TokenID, error) {
	var tokens []TokenID
	if opts.AddBOS {
		tokens = append(tokens, t.vocab.BOS)
	}
	for _, chunk := range t.pattern.FindAllString(text, -1) {
		encoded := t.byteEncode(chunk)
		for _, bpeTok := range t.bpe(encoded) {
			if id, ok := t.encoder[bpeTok]; ok {
				tokens = append(tokens, id)
			}
		}
	}
	if opts.AddEOS {
		tokens = append(tokens, t.vocab.EOS)
	}
	if opts.Truncate > 0 && len(tokens) > opts.Truncate {
		tokens = tokens[:opts.Truncate]
	}
	return tokens, nil
}

func (t *bpeTokenizer) Decode(tokens []TokenID, _ DecodeOptions) (string, error) {
	var sb strings.Builder
	for _, id := range tokens {
		if tok, ok := t.decoder[id]; ok {
			sb.WriteString(t.byteDecode(tok))
		}
	}
	return sb.String(), nil
}

func (t *bpeTokenizer) VocabSize() int { return t.vocab.Size() }
func (t *bpeTokenizer) BOS() TokenID   { return t.vocab.BOS }
func (t *bpeTokenizer) EOS() TokenID   { return t.vocab.EOS }

func (t *bpeTokenizer) TokenToID(token string) (TokenID, bool) {
	id, ok := t.encoder[token]
	return id, ok
}

func (t *bpeTokenizer) IDToToken(id TokenID) (string, bool) {
	tok, ok := t.decoder[id]
	return tok, ok
}
