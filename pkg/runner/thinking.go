package runner

import "strings"

// thinkingState tracks where a streaming response sits relative to a
// <think>...</think> preamble.
type thinkingState int

const (
	lookingForOpening thinkingState = iota
	thinkingBody
	thinkingDone
)

// thinkingSplitter separates a model's <think>...</think> reasoning
// preamble from its final answer as tokens arrive, so a stream can
// surface Frame.Thinking and Frame.Content separately instead of
// waiting for the whole response. Ported from
// original_source/src/thinking/mod.rs's Parser: leading whitespace is
// skipped before the opening tag is recognized, and a token that
// splits the closing tag across two decode steps is held back until
// the full tag either completes or is ruled out.
type thinkingSplitter struct {
	state      thinkingState
	openingTag string
	closingTag string
	acc        string
}

func newThinkingSplitter() *thinkingSplitter {
	return &thinkingSplitter{openingTag: "<think>", closingTag: "</think>"}
}

// add feeds newly decoded text and returns the thinking and regular
// content extracted from the accumulated buffer by this call.
func (p *thinkingSplitter) add(content string) (thinking, rest string) {
	p.acc += content
	for {
		t, r, more := p.eat()
		thinking += t
		rest += r
		if !more {
			break
		}
	}
	return thinking, rest
}

func (p *thinkingSplitter) eat() (thinking, rest string, more bool) {
	switch p.state {
	case lookingForOpening:
		trimmed := strings.TrimLeft(p.acc, " \t\r\n")
		switch {
		case strings.HasPrefix(trimmed, p.openingTag):
			after := strings.TrimLeft(trimmed[len(p.openingTag):], " \t\r\n")
			p.acc = after
			p.state = thinkingBody
			return "", "", true
		case strings.HasPrefix(p.openingTag, trimmed):
			return "", "", false // could still become the opening tag, wait for more
		case trimmed == "":
			return "", "", false
		default:
			p.state = thinkingDone
			out := p.acc
			p.acc = ""
			return "", out, false
		}
	case thinkingBody:
		if idx := strings.Index(p.acc, p.closingTag); idx >= 0 {
			thinkingPart := p.acc[:idx]
			remaining := strings.TrimLeft(p.acc[idx+len(p.closingTag):], " \t\r\n")
			p.acc = ""
			p.state = thinkingDone
			return thinkingPart, remaining, false
		}
		if overlap := overlapSuffix(p.acc, p.closingTag); overlap > 0 {
			keep := len(p.acc) - overlap
			thinkingPart := p.acc[:keep]
			p.acc = p.acc[keep:]
			return thinkingPart, "", false
		}
		thinkingPart := p.acc
		p.acc = ""
		return thinkingPart, "", false
	default: // thinkingDone
		out := p.acc
		p.acc = ""
		return "", out, false
	}
}

// overlapSuffix returns the length of the longest suffix of s that is
// also a prefix of delim, so a tag split across two decode steps isn't
// mistaken for plain content.
func overlapSuffix(s, delim string) int {
	max := len(delim)
	if len(s) < max {
		max = len(s)
	}
	for i := max; i >= 1; i-- {
		if strings.HasSuffix(s, delim[:i]) {
			return i
		}
	}
	return 0
}
