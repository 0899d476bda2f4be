package tokenizer

import "strings"

// wordPieceTokenizer is greedy longest-match with "##"-continuation
// pieces — grounded on
// original_source/src/core/tokenizer/wordpiece.rs.
type wordPieceTokenizer struct {
	vocab      Vocabulary
	encoder    map[string]TokenID
	decoder    map[TokenID]string
	maxWordLen int
	unkToken   string
}

func newWordPiece(vocab Vocabulary) *wordPieceTokenizer {
	t := &wordPieceTokenizer{
		vocab:      vocab,
		encoder:    make(map[string]TokenID, len(vocab.Tokens)),
		decoder:    make(map[TokenID]string, len(vocab.Tokens)),
		maxWordLen: 100,
		unkToken:   vocab.UnkToken,
	}
	if t.unkToken == "" {
		t.unkToken = "[UNK]"
	}
	for i, tok := range vocab.Tokens {
		id := TokenID(i)
		t.encoder[tok] = id
		t.decoder[id] = tok
	}
	return t
}

func (t *wordPieceTokenizer) tokenizeWord(word string) []TokenID {
	var tokens []TokenID
	runes := []rune(word)
	start := 0
	for start < len(runes) {
		found := false
		for end := len(runes); end > start; end-- {
			substr := string(runes[start:end])
			if start > 0 {
				substr = "##" + substr
			}
			if id, ok := t.encoder[substr]; ok {
				tokens = append(tokens, id)
				start = end
				found = true
				break
			}
		}
		if !found {
			if id, ok := t.encoder[t.unkToken]; ok {
				tokens = append(tokens, id)
			}
			start++
		}
	}
	return tokens
}

func (t *wordPieceTokenizer) Encode(text string, opts EncodeOptions) ([]TokenID, error) {
	var tokens []TokenID
	if opts.AddBOS {
		tokens = append(tokens, t.vocab.BOS)
	}
	for _, word := range strings.Fields(text) {
		if len([]rune(word)) <= t.maxWordLen {
			tokens = append(tokens, t.tokenizeWord(word)...)
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

func (t *wordPieceTokenizer) Decode(tokens []TokenID, opts DecodeOptions) (string, error) {
	var sb strings.Builder
	for _, id := range tokens {
		tok, ok := t.decoder[id]
		if !ok {
			continue
		}
		if opts.SkipSpecial && (id == t.vocab.BOS || id == t.vocab.EOS) {
			continue
		}
		if strings.HasPrefix(tok, "##") {
			sb.WriteString(strings.TrimPrefix(tok, "##"))
		} else {
			if sb.Len() > 0 {
				sb.WriteString(" ")
			}
			sb.WriteString(tok)
		}
	}
	text := sb.String()
	if opts.CleanSpaces {
		text = strings.TrimSpace(text)
	}
	return text, nil
}

func (t *wordPieceTokenizer) VocabSize() int { return t.vocab.Size() }
func (t *wordPieceTokenizer) BOS() TokenID   { return t.vocab.BOS }
func (t *wordPieceTokenizer) EOS() TokenID   { return t.vocab.EOS }

func (t *wordPieceTokenizer) TokenToID(token string) (TokenID, bool) {
	id, ok := t.encoder[token]
	return id, ok
}

func (t *wordPieceTokenizer) IDToToken(id TokenID) (string, bool) {
	tok, ok := t.decoder[id]
	return tok, ok
}
