// Package runner implements the Runner from spec.md §4.8: a loaded
// model's state machine plus its generate/chat/embed operations.
// Grounded on original_source/src/runner/mod.rs's Runner (load,
// generate, chat, embed, is_loaded, unload), with the candle
// LogitsProcessor replaced by pkg/sampler and the single Llama
// architecture assumption replaced by pkg/tokenizer's family dispatch
// and pkg/forwardengine's native path.
package runner

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/modelhost/modelhost/pkg/apperror"
	"github.com/modelhost/modelhost/pkg/forwardengine"
	"github.com/modelhost/modelhost/pkg/gguf"
	"github.com/modelhost/modelhost/pkg/sampler"
	"github.com/modelhost/modelhost/pkg/tokenizer"
)

// State is the Runner's lifecycle position (spec.md §4.8).
type State int

const (
	Unloaded State = iota
	Loading
	Ready
	Generating
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Generating:
		return "generating"
	default:
		return "unknown"
	}
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolDefinition is a tool's JSON schema, rendered into the prompt
// template so the model can request it (SPEC_FULL.md §12; execution
// stays external).
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  string `json:"parameters"` // raw JSON schema
}

// ToolCall is a tool invocation request parsed out of generated text.
type ToolCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// GenerateOptions carries the per-request sampler and stopping
// parameters from spec.md §4.8.
type GenerateOptions struct {
	Sampler     sampler.Options
	NumPredict  int // default 128; -1 means unbounded up to context length
	Stop        []string
	KeepAlive   *time.Duration
	RawTemplate bool // skip the chat template step, feed prompt verbatim
}

func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{Sampler: sampler.DefaultOptions(), NumPredict: 128}
}

// Frame is one emitted step of generate/chat (spec.md §4.8, §6).
type Frame struct {
	Content  string
	Thinking string // non-empty only when the model's template declares thinking support
	ToolCall *ToolCall
	Done     bool

	TotalDuration      time.Duration
	PromptEvalCount    int
	PromptEvalDuration time.Duration
	EvalCount          int
	EvalDuration       time.Duration
}

// EmitFunc receives generation frames as they are produced. A false
// return means the consumer is gone (spec.md §5: client disconnected);
// the generate loop checks this and terminates at the next token
// boundary rather than continuing to completion.
type EmitFunc func(Frame) bool

// Runner is one loaded model ready to serve requests. Exactly one
// mutable operation runs at a time; callers serialize through
// pkg/scheduler's handle, not through Runner itself.
type Runner struct {
	mu sync.Mutex

	modelName   string
	weightsPath string
	state       State

	tok    tokenizer.Tokenizer
	engine forwardengine.Engine

	// template is the model's own chat template when the manifest
	// supplies one (spec.md §4.8: "implementations SHOULD prefer the
	// model's own template when present"); empty falls back to the
	// simple role-labeled form.
	template string
	thinking bool
}

// New constructs an unloaded runner pointing at weightsPath. Loading
// happens lazily on first acquire (spec.md §4.9).
func New(modelName, weightsPath string) *Runner {
	return &Runner{modelName: modelName, weightsPath: weightsPath, state: Unloaded}
}

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) ModelName() string { return r.modelName }

// Load reads the weights blob, builds the tokenizer from its embedded
// vocabulary, and builds the forward engine (spec.md §4.8's load()).
// It is idempotent: a second call on an already-Ready runner is a
// no-op.
func (r *Runner) Load(template string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Ready {
		return nil
	}
	r.state = Loading

	f, err := os.Open(r.weightsPath)
	if err != nil {
		r.state = Unloaded
		return apperror.LoadFailed(fmt.Sprintf("runner: open weights for %s", r.modelName), err)
	}
	defer f.Close()

	gf, err := gguf.Parse(f)
	if err != nil {
		r.state = Unloaded
		return apperror.LoadFailed(fmt.Sprintf("runner: parse gguf for %s", r.modelName), err)
	}

	tok, err := tokenizer.FromGGUF(gf)
	if err != nil {
		r.state = Unloaded
		return apperror.LoadFailed(fmt.Sprintf("runner: build tokenizer for %s", r.modelName), err)
	}

	engine, err := forwardengine.Load(gf, tok.VocabSize())
	if err != nil {
		r.state = Unloaded
		return apperror.LoadFailed(fmt.Sprintf("runner: build forward engine for %s", r.modelName), err)
	}

	r.tok = tok
	r.engine = engine
	r.template = template
	r.thinking = strings.Contains(template, "<think>")
	r.state = Ready
	return nil
}

// Unload drops model state. Safe to call from any state.
func (r *Runner) Unload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tok = nil
	r.engine = nil
	r.state = Unloaded
}

// Generate implements spec.md §4.8's generate(): encode the prompt
// with BOS, evaluate it in one forward pass, then decode one token at
// a time until eos, num_predict, or a stop string matches the rolling
// tail.
func (r *Runner) Generate(prompt string, opts GenerateOptions, emit EmitFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Ready {
		return apperror.New(apperror.KindLoadFailed, fmt.Sprintf("runner: %s is not ready (state=%s)", r.modelName, r.state))
	}
	r.state = Generating
	defer func() { r.state = Ready }()

	r.engine.Reset()
	start := time.Now()

	promptTokens, err := r.tok.Encode(prompt, tokenizer.EncodeOptions{AddBOS: true})
	if err != nil {
		return fmt.Errorf("runner: encode prompt: %w", err)
	}
	if len(promptTokens) == 0 {
		return apperror.BadRequest("runner: empty prompt encodes to zero tokens")
	}

	logits, err := r.engine.Forward(promptTokens, 0)
	if err != nil {
		return fmt.Errorf("runner: prompt forward pass: %w", err)
	}

	numPredict := opts.NumPredict
	if numPredict == 0 {
		numPredict = 128
	}
	src := sampler.NewSource(opts.Sampler.Seed)
	sequence := append([]tokenizer.TokenID(nil), promptTokens...)
	recent := make([]int, 0, 64)
	var tail strings.Builder
	evalCount := 0

	var splitter *thinkingSplitter
	if r.thinking {
		splitter = newThinkingSplitter()
	}

	for numPredict < 0 || evalCount < numPredict {
		next := sampler.Sample(logits, recent, opts.Sampler, src)
		nextID := tokenizer.TokenID(next)
		if nextID == r.tok.EOS() {
			break
		}

		text, err := r.tok.Decode([]tokenizer.TokenID{nextID}, tokenizer.DecodeOptions{})
		if err != nil {
			return fmt.Errorf("runner: decode token: %w", err)
		}

		frame := Frame{Content: text}
		if splitter != nil {
			frame.Thinking, frame.Content = splitter.add(text)
		}
		if !emit(frame) {
			return apperror.ChannelClosed()
		}

		sequence = append(sequence, nextID)
		recent = append(recent, next)
		if len(recent) > 64 {
			recent = recent[len(recent)-64:]
		}
		evalCount++

		tail.WriteString(text)
		if matchesStop(tail.String(), opts.Stop) {
			break
		}

		logits, err = r.engine.Forward([]tokenizer.TokenID{nextID}, len(sequence)-1)
		if err != nil {
			return fmt.Errorf("runner: forward pass: %w", err)
		}
	}

	emit(Frame{
		Done:            true,
		TotalDuration:   time.Since(start),
		PromptEvalCount: len(promptTokens),
		EvalCount:       evalCount,
	})
	return nil
}

func matchesStop(tail string, stops []string) bool {
	for _, s := range stops {
		if s != "" && strings.Contains(tail, s) {
			return true
		}
	}
	return false
}

// Chat implements spec.md §4.8's chat(): render messages through the
// model's own template when the manifest supplied one, else the
// simple role-labeled fallback, then delegate to Generate. Tool
// definitions are rendered into the prompt; a fenced ```tool_call```
// block in the response is parsed out and surfaced as Frame.ToolCall
// instead of plain content (SPEC_FULL.md §12).
func (r *Runner) Chat(messages []Message, tools []ToolDefinition, opts GenerateOptions, emit EmitFunc) error {
	r.mu.Lock()
	template := r.template
	r.mu.Unlock()

	prompt := renderChatPrompt(template, messages, tools)

	var content strings.Builder
	err := r.Generate(prompt, opts, func(f Frame) bool {
		if f.Done {
			if call, rest := extractToolCall(content.String()); call != nil {
				if !emit(Frame{ToolCall: call, Content: rest}) {
					return false
				}
			}
			return emit(f)
		}
		content.WriteString(f.Content)
		return emit(f)
	})
	return err
}

// renderChatPrompt flattens messages via the model's template if one
// was supplied, else spec.md §4.8's simple fallback:
// "{role}: {content}\n" concatenated, trailing "assistant: ".
func renderChatPrompt(template string, messages []Message, tools []ToolDefinition) string {
	var sb strings.Builder
	if len(tools) > 0 {
		sb.WriteString("Available tools:\n")
		for _, t := range tools {
			fmt.Fprintf(&sb, "- %s: %s\n  parameters: %s\n", t.Name, t.Description, t.Parameters)
		}
	}
	if template != "" {
		sb.WriteString(applySimpleTemplate(template, messages))
		return sb.String()
	}
	sb.WriteString(simpleRoleTemplate(messages))
	return sb.String()
}

// applySimpleTemplate renders the model's own chat template, written
// as a Go template against a {{.Messages}}/{{.System}}/{{.Prompt}}
// data set, mirroring how manifests in this store carry TEMPLATE
// directives (spec.md §4.5). GGUF-embedded chat templates are usually
// Jinja2, which fails to parse or execute here; either failure falls
// back to the simple role-labeled form rather than surfacing an error
// to the caller, since a malformed template shouldn't block a chat
// request.
func applySimpleTemplate(tmplSrc string, messages []Message) string {
	tmpl, err := template.New("chat").Parse(tmplSrc)
	if err != nil {
		return simpleRoleTemplate(messages)
	}

	data := struct {
		Messages []Message
		System   string
		Prompt   string
	}{Messages: messages}
	for _, m := range messages {
		if m.Role == "system" {
			data.System = m.Content
		}
	}
	if len(messages) > 0 {
		data.Prompt = messages[len(messages)-1].Content
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return simpleRoleTemplate(messages)
	}
	return sb.String()
}

func simpleRoleTemplate(messages []Message) string {
	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	sb.WriteString("assistant: ")
	return sb.String()
}

// extractToolCall looks for a fenced ```tool_call\n{...}\n``` block
// and parses name/arguments out of it with no JSON dependency beyond
// simple field scanning, mirroring original_source's detect_tool_call
// (a best-effort brace scan, not a full parser).
func extractToolCall(text string) (*ToolCall, string) {
	const fence = "```tool_call"
	start := strings.Index(text, fence)
	if start < 0 {
		return nil, text
	}
	rest := text[start+len(fence):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return nil, text
	}
	body := strings.TrimSpace(rest[:end])

	name := fieldValue(body, "name")
	args := fieldValue(body, "arguments")
	if name == "" {
		return nil, text
	}
	before := text[:start]
	return &ToolCall{Name: name, Arguments: args}, strings.TrimSpace(before)
}

func fieldValue(body, key string) string {
	marker := `"` + key + `"`
	idx := strings.Index(body, marker)
	if idx < 0 {
		return ""
	}
	rest := body[idx+len(marker):]
	colon := strings.Index(rest, ":")
	if colon < 0 {
		return ""
	}
	rest = strings.TrimSpace(rest[colon+1:])
	rest = strings.TrimPrefix(rest, `"`)
	if end := strings.IndexAny(rest, `",}`); end >= 0 {
		return rest[:end]
	}
	return rest
}

// Embed implements spec.md §4.8's embed(): encode without BOS, call
// the forward engine's mean-pooled embedding.
func (r *Runner) Embed(text string) ([]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Ready {
		return nil, apperror.New(apperror.KindLoadFailed, fmt.Sprintf("runner: %s is not ready (state=%s)", r.modelName, r.state))
	}

	tokens, err := r.tok.Encode(text, tokenizer.EncodeOptions{})
	if err != nil {
		return nil, fmt.Errorf("runner: encode embed input: %w", err)
	}
	return r.engine.Embed(tokens)
}
