package httpapi

import (
	"time"

	"github.com/modelhost/modelhost/pkg/runner"
)

// Options is the request-level option bag from spec.md §4.10's
// `options?` field, translated into sampler.Options/runner.GenerateOptions
// by toGenerateOptions. Field names mirror the original's RunnerOptions
// (original_source/src/runner/mod.rs).
type Options struct {
	Temperature       *float32 `json:"temperature"`
	TopK              *int     `json:"top_k"`
	TopP              *float32 `json:"top_p"`
	RepeatPenalty     *float32 `json:"repeat_penalty"`
	Seed              *uint64  `json:"seed"`
	NumPredict        *int     `json:"num_predict"`
	Stop              []string `json:"stop"`
}

type GenerateRequest struct {
	Model     string   `json:"model"`
	Prompt    string   `json:"prompt"`
	Stream    *bool    `json:"stream"`
	Options   Options  `json:"options"`
	KeepAlive *string  `json:"keep_alive"`
}

// GenerateFrame is one frame of POST /api/generate's ndjson stream
// (spec.md §4.10).
type GenerateFrame struct {
	Model              string        `json:"model"`
	Response           string        `json:"response"`
	Done               bool          `json:"done"`
	TotalDuration      time.Duration `json:"total_duration,omitempty"`
	PromptEvalCount    int           `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration time.Duration `json:"prompt_eval_duration,omitempty"`
	EvalCount          int           `json:"eval_count,omitempty"`
	EvalDuration       time.Duration `json:"eval_duration,omitempty"`
	Error              string        `json:"error,omitempty"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model     string                   `json:"model"`
	Messages  []ChatMessage            `json:"messages"`
	Tools     []runner.ToolDefinition  `json:"tools,omitempty"`
	Stream    *bool                    `json:"stream"`
	Options   Options                  `json:"options"`
	KeepAlive *string                  `json:"keep_alive"`
}

// ChatFrame is one frame of POST /api/chat's ndjson stream. Thinking
// carries the `<think>...</think>` preamble separately from Message
// when the model's template declares thinking support (SPEC_FULL.md
// §12); ToolCalls carries any tool invocation parsed out of the
// response in place of plain content.
type ChatFrame struct {
	Model     string           `json:"model"`
	Message   ChatMessage      `json:"message"`
	Thinking  string           `json:"thinking,omitempty"`
	ToolCalls []runner.ToolCall `json:"tool_calls,omitempty"`
	Done      bool             `json:"done"`
	EvalCount int              `json:"eval_count,omitempty"`
	Error     string           `json:"error,omitempty"`
}

type EmbedRequest struct {
	Model      string      `json:"model"`
	Input      interface{} `json:"input"` // string or []string
	Dimensions *int        `json:"dimensions"`
}

type EmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// ModelInfo is one entry of GET /api/tags.
type ModelInfo struct {
	Name       string    `json:"name"`
	Tag        string    `json:"tag"`
	Digest     string    `json:"digest"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	Family     string    `json:"family"`
}

// RunningModelInfo is one entry of GET /api/ps.
type RunningModelInfo struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	VRAMSize  uint64    `json:"size_vram"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ShowRequest struct {
	Name string `json:"name"`
}

// ShowResponse is POST /api/show's body.
type ShowResponse struct {
	Name      string `json:"name"`
	Family    string `json:"family"`
	Template  string `json:"template,omitempty"`
	System    string `json:"system,omitempty"`
	License   string `json:"license,omitempty"`
	Size      int64  `json:"size"`
	Digest    string `json:"digest"`
}

type PullRequest struct {
	Name  string `json:"name"`
	Async bool   `json:"async"` // queue the pull and return immediately, see SPEC_FULL.md §11
}

type PushRequest struct {
	Name string `json:"name"`
}

type CreateRequest struct {
	Name      string `json:"name"`
	Modelfile string `json:"modelfile"`
}

type DeleteRequest struct {
	Name string `json:"name"`
}

type CopyRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

type progressFrame struct {
	Status     string  `json:"status"`
	Digest     string  `json:"digest,omitempty"`
	Total      int64   `json:"total,omitempty"`
	Completed  int64   `json:"completed,omitempty"`
	Percentage float64 `json:"percentage,omitempty"`
}
