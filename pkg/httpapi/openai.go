// OpenAI-compatible dialect (spec.md §4.10): translates to/from the
// native dialect. Stream frames become SSE; non-stream responses are
// buffered into the OpenAI JSON schema. Model ids map 1:1.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelhost/modelhost/pkg/apperror"
	"github.com/modelhost/modelhost/pkg/runner"
)

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// openAIFunctionDef is a tool definition in OpenAI's dialect (a JSON
// Schema object rather than the native dialect's raw-string form).
type openAIFunctionDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

type openAITool struct {
	Type     string            `json:"type"`
	Function openAIFunctionDef `json:"function"`
}

func toRunnerTools(tools []openAITool) []runner.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}
	out := make([]runner.ToolDefinition, len(tools))
	for i, t := range tools {
		params, _ := json.Marshal(t.Function.Parameters)
		out[i] = runner.ToolDefinition{Name: t.Function.Name, Description: t.Function.Description, Parameters: string(params)}
	}
	return out
}

type openAIToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIToolCall struct {
	ID       string                  `json:"id"`
	Type     string                  `json:"type"`
	Function openAIToolCallFunction `json:"function"`
}

func toOpenAIToolCall(idx int, c *runner.ToolCall) openAIToolCall {
	return openAIToolCall{
		ID:       fmt.Sprintf("call_%d", idx),
		Type:     "function",
		Function: openAIToolCallFunction{Name: c.Name, Arguments: c.Arguments},
	}
}

type openAIChatRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Tools    []openAITool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
	Options
}

type openAIChoiceDelta struct {
	Role      string            `json:"role,omitempty"`
	Content   string            `json:"content,omitempty"`
	ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIStreamChoice struct {
	Index        int               `json:"index"`
	Delta        openAIChoiceDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openAIChatChunk struct {
	ID      string               `json:"id"`
	Object  string               `json:"object"`
	Created int64                `json:"created"`
	Model   string               `json:"model"`
	Choices []openAIStreamChoice `json:"choices"`
}

type openAIChatMessage struct {
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIChoice struct {
	Index        int               `json:"index"`
	Message      openAIChatMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIChatResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
}

const finishStop = "stop"

// handleOpenAIChatCompletions implements POST /v1/chat/completions.
func (s *Server) handleOpenAIChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openAIChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}

	weightsPath, err := s.store.WeightsPath(r.Context(), req.Model)
	if err != nil {
		writeError(w, apperror.StatusFor(err), err.Error())
		return
	}
	model, err := s.store.Get(r.Context(), req.Model)
	if err != nil {
		writeError(w, apperror.StatusFor(err), err.Error())
		return
	}
	handle := s.scheduler.Acquire(req.Model, weightsPath, s.cfg.DefaultKeepAlive)
	if err := handle.Ensure(model.Template); err != nil {
		writeError(w, apperror.StatusFor(err), err.Error())
		return
	}

	messages := make([]runner.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = runner.Message{Role: m.Role, Content: m.Content}
	}
	tools := toRunnerTools(req.Tools)
	opts := toGenerateOptions(req.Options)
	created := startOfRequest()

	if !req.Stream {
		var sb strings.Builder
		var toolCalls []openAIToolCall
		err := handle.Runner().Chat(messages, tools, opts, func(f runner.Frame) bool {
			sb.WriteString(f.Content)
			if f.ToolCall != nil {
				toolCalls = append(toolCalls, toOpenAIToolCall(len(toolCalls), f.ToolCall))
			}
			return true
		})
		if err != nil && apperror.KindOf(err) != apperror.KindChannelClosed {
			writeError(w, apperror.StatusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, openAIChatResponse{
			ID: "chatcmpl-" + req.Model, Object: "chat.completion", Created: created, Model: req.Model,
			Choices: []openAIChoice{{Index: 0, Message: openAIChatMessage{Role: "assistant", Content: sb.String(), ToolCalls: toolCalls}, FinishReason: finishStop}},
		})
		return
	}

	sseStream(w, r, func(emit func(frame any) bool) {
		first := true
		err := handle.Runner().Chat(messages, tools, opts, func(f runner.Frame) bool {
			if f.Done {
				reason := finishStop
				return emit(openAIChatChunk{
					ID: "chatcmpl-" + req.Model, Object: "chat.completion.chunk", Created: created, Model: req.Model,
					Choices: []openAIStreamChoice{{Index: 0, Delta: openAIChoiceDelta{}, FinishReason: &reason}},
				})
			}
			delta := openAIChoiceDelta{Content: f.Content}
			if f.ToolCall != nil {
				delta.ToolCalls = []openAIToolCall{toOpenAIToolCall(0, f.ToolCall)}
			}
			if first {
				delta.Role = "assistant"
				first = false
			}
			return emit(openAIChatChunk{
				ID: "chatcmpl-" + req.Model, Object: "chat.completion.chunk", Created: created, Model: req.Model,
				Choices: []openAIStreamChoice{{Index: 0, Delta: delta, FinishReason: nil}},
			})
		})
		_ = err // a mid-stream error ends the stream with [DONE], spec.md §7
	})
}

type openAICompletionRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Options
}

type openAICompletionChoice struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
}

type openAICompletionResponse struct {
	ID      string                    `json:"id"`
	Object  string                    `json:"object"`
	Created int64                     `json:"created"`
	Model   string                    `json:"model"`
	Choices []openAICompletionChoice  `json:"choices"`
}

// handleOpenAICompletions implements POST /v1/completions.
func (s *Server) handleOpenAICompletions(w http.ResponseWriter, r *http.Request) {
	var req openAICompletionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}

	weightsPath, err := s.store.WeightsPath(r.Context(), req.Model)
	if err != nil {
		writeError(w, apperror.StatusFor(err), err.Error())
		return
	}
	model, err := s.store.Get(r.Context(), req.Model)
	if err != nil {
		writeError(w, apperror.StatusFor(err), err.Error())
		return
	}
	handle := s.scheduler.Acquire(req.Model, weightsPath, s.cfg.DefaultKeepAlive)
	if err := handle.Ensure(model.Template); err != nil {
		writeError(w, apperror.StatusFor(err), err.Error())
		return
	}
	opts := toGenerateOptions(req.Options)
	created := startOfRequest()

	if !req.Stream {
		var sb strings.Builder
		err := handle.Runner().Generate(req.Prompt, opts, func(f runner.Frame) bool {
			sb.WriteString(f.Content)
			return true
		})
		if err != nil && apperror.KindOf(err) != apperror.KindChannelClosed {
			writeError(w, apperror.StatusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, openAICompletionResponse{
			ID: "cmpl-" + req.Model, Object: "text_completion", Created: created, Model: req.Model,
			Choices: []openAICompletionChoice{{Index: 0, Text: sb.String(), FinishReason: finishStop}},
		})
		return
	}

	sseStream(w, r, func(emit func(frame any) bool) {
		err := handle.Runner().Generate(req.Prompt, opts, func(f runner.Frame) bool {
			reason := ""
			if f.Done {
				reason = finishStop
			}
			return emit(openAICompletionResponse{
				ID: "cmpl-" + req.Model, Object: "text_completion", Created: created, Model: req.Model,
				Choices: []openAICompletionChoice{{Index: 0, Text: f.Content, FinishReason: reason}},
			})
		})
		_ = err
	})
}

type openAIEmbeddingRequest struct {
	Model string      `json:"model"`
	Input interface{} `json:"input"`
}

type openAIEmbeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
	Object    string    `json:"object"`
}

type openAIEmbeddingResponse struct {
	Object string                 `json:"object"`
	Data   []openAIEmbeddingData  `json:"data"`
	Model  string                 `json:"model"`
}

// handleOpenAIEmbeddings implements POST /v1/embeddings.
func (s *Server) handleOpenAIEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req openAIEmbeddingRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var inputs []string
	switch v := req.Input.(type) {
	case string:
		inputs = []string{v}
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				inputs = append(inputs, s)
			}
		}
	}
	if len(inputs) == 0 {
		writeError(w, http.StatusBadRequest, "input is required")
		return
	}

	weightsPath, err := s.store.WeightsPath(r.Context(), req.Model)
	if err != nil {
		writeError(w, apperror.StatusFor(err), err.Error())
		return
	}
	model, err := s.store.Get(r.Context(), req.Model)
	if err != nil {
		writeError(w, apperror.StatusFor(err), err.Error())
		return
	}
	handle := s.scheduler.Acquire(req.Model, weightsPath, s.cfg.DefaultKeepAlive)
	if err := handle.Ensure(model.Template); err != nil {
		writeError(w, apperror.StatusFor(err), err.Error())
		return
	}

	data := make([]openAIEmbeddingData, len(inputs))
	for i, text := range inputs {
		v, err := handle.Runner().Embed(text)
		if err != nil {
			writeError(w, apperror.StatusFor(err), err.Error())
			return
		}
		data[i] = openAIEmbeddingData{Index: i, Embedding: v, Object: "embedding"}
	}
	writeJSON(w, http.StatusOK, openAIEmbeddingResponse{Object: "list", Data: data, Model: req.Model})
}

type openAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// handleOpenAIModels implements GET /v1/models.
func (s *Server) handleOpenAIModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]openAIModel, len(models))
	for i, m := range models {
		out[i] = openAIModel{ID: m.Name + ":" + m.Tag, Object: "model", Created: m.ModifiedAt.Unix(), OwnedBy: "modelhost"}
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": out})
}

func startOfRequest() int64 { return time.Now().Unix() }
