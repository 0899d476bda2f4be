package tokenizer

import "strings"

// sentencePieceTokenizer is longest-match unigram over the vocabulary
// with "▁" (U+2581) space normalization — grounded on
// original_source/src/core/tokenizer/sentencepiece.rs.
type sentencePieceTokenizer struct {
	vocab   Vocabulary
	encoder map[string]TokenID
	decoder map[TokenID]string
}

const spaceMarker = "▁"

func newSentencePiece(vocab Vocabulary) *sentencePieceTokenizer {
	t := &sentencePieceTokenizer{
		vocab:   vocab,
		encoder: make(map[string]TokenID, len(vocab.Tokens)),
		decoder: make(map[TokenID]string, len(vocab.Tokens)),
	}
	for i, tok := range vocab.Tokens {
		id := TokenID(i)
		t.encoder[tok] = id
		t.decoder[id] = tok
	}
	return t
}

func (t *sentencePieceTokenizer) Encode(text string, opts EncodeOptions) ([]TokenID, error) {
	var tokens []TokenID
	if opts.AddBOS {
		tokens = append(tokens, t.vocab.BOS)
	}

	normalized := strings.ReplaceAll(text, " ", spaceMarker)
	chars := []rune(normalized)

	for i := 0; i < len(chars); {
		bestID, bestLen := TokenID(-1), 0
		for length := 1; i+length <= len(chars); length++ {
			substr := string(chars[i : i+length])
			if id, ok := t.encoder[substr]; ok {
				bestID, bestLen = id, length
			}
		}
		if bestLen > 0 {
			tokens = append(tokens, bestID)
			i += bestLen
		} else {
			i++
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

func (t *sentencePieceTokenizer) Decode(tokens []TokenID, opts DecodeOptions) (string, error) {
	var sb strings.Builder
	for _, id := range tokens {
		tok, ok := t.decoder[id]
		if !ok {
			continue
		}
		if opts.SkipSpecial && (id == t.vocab.BOS || id == t.vocab.EOS) {
			continue
		}
		sb.WriteString(tok)
	}
	text := strings.ReplaceAll(sb.String(), spaceMarker, " ")
	if opts.CleanSpaces {
		text = strings.TrimSpace(text)
	}
	return text, nil
}

func (t *sentencePieceTokenizer) VocabSize() int { return t.vocab.Size() }
func (t *sentencePieceTokenizer) BOS() TokenID   { return t.vocab.BOS }
func (t *sentencePieceTokenizer) EOS() TokenID   { return t.vocab.EOS }

func (t *sentencePieceTokenizer) TokenToID(token string) (TokenID, bool) {
	id, ok := t.encoder[token]
	return id, ok
}

func (t *sentencePieceTokenizer) IDToToken(id TokenID) (string, bool) {
	tok, ok := t.decoder[id]
	return tok, ok
}
