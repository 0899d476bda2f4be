package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/modelhost/modelhost/pkg/apperror"
	"github.com/modelhost/modelhost/pkg/digest"
	"github.com/modelhost/modelhost/pkg/modelstore"
	"github.com/modelhost/modelhost/pkg/runner"
)

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// handleGenerate implements POST /api/generate (spec.md §4.10, §4.8).
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}

	keepAlive := parseKeepAlive(req.KeepAlive, s.cfg.DefaultKeepAlive)
	if keepAlive <= 0 {
		s.scheduler.Stop(req.Model)
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("Model stopped"))
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

	handle := s.scheduler.Acquire(req.Model, weightsPath, keepAlive)
	if err := handle.Ensure(model.Template); err != nil {
		writeError(w, apperror.StatusFor(err), err.Error())
		return
	}

	opts := toGenerateOptions(req.Options)

	if !streamRequested(req.Stream) {
		var sb strings.Builder
		var last runner.Frame
		err := handle.Runner().Generate(req.Prompt, opts, func(f runner.Frame) bool {
			sb.WriteString(f.Content)
			last = f
			return true
		})
		if err != nil && apperror.KindOf(err) != apperror.KindChannelClosed {
			writeError(w, apperror.StatusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, GenerateFrame{
			Model: req.Model, Response: sb.String(), Done: true,
			TotalDuration: last.TotalDuration, PromptEvalCount: last.PromptEvalCount, EvalCount: last.EvalCount,
		})
		return
	}

	ndjsonStream(w, r, func(emit func(frame any) bool) {
		err := handle.Runner().Generate(req.Prompt, opts, func(f runner.Frame) bool {
			return emit(GenerateFrame{
				Model: req.Model, Response: f.Content, Done: f.Done,
				TotalDuration: f.TotalDuration, PromptEvalCount: f.PromptEvalCount, EvalCount: f.EvalCount,
			})
		})
		if err != nil && apperror.KindOf(err) != apperror.KindChannelClosed {
			emit(GenerateFrame{Model: req.Model, Done: true, Error: err.Error()})
		}
	})
}

// handleChat implements POST /api/chat (spec.md §4.10, §4.8).
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}

	keepAlive := parseKeepAlive(req.KeepAlive, s.cfg.DefaultKeepAlive)
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

	handle := s.scheduler.Acquire(req.Model, weightsPath, keepAlive)
	if err := handle.Ensure(model.Template); err != nil {
		writeError(w, apperror.StatusFor(err), err.Error())
		return
	}

	messages := make([]runner.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = runner.Message{Role: m.Role, Content: m.Content}
	}
	opts := toGenerateOptions(req.Options)

	if !streamRequested(req.Stream) {
		var sb strings.Builder
		var thinking strings.Builder
		var toolCalls []runner.ToolCall
		evalCount := 0
		err := handle.Runner().Chat(messages, req.Tools, opts, func(f runner.Frame) bool {
			sb.WriteString(f.Content)
			thinking.WriteString(f.Thinking)
			if f.ToolCall != nil {
				toolCalls = append(toolCalls, *f.ToolCall)
			}
			if f.Done {
				evalCount = f.EvalCount
			}
			return true
		})
		if err != nil && apperror.KindOf(err) != apperror.KindChannelClosed {
			writeError(w, apperror.StatusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, ChatFrame{
			Model: req.Model, Message: ChatMessage{Role: "assistant", Content: sb.String()},
			Thinking: thinking.String(), ToolCalls: toolCalls, Done: true, EvalCount: evalCount,
		})
		return
	}

	ndjsonStream(w, r, func(emit func(frame any) bool) {
		err := handle.Runner().Chat(messages, req.Tools, opts, func(f runner.Frame) bool {
			var toolCalls []runner.ToolCall
			if f.ToolCall != nil {
				toolCalls = []runner.ToolCall{*f.ToolCall}
			}
			return emit(ChatFrame{
				Model: req.Model, Message: ChatMessage{Role: "assistant", Content: f.Content},
				Thinking: f.Thinking, ToolCalls: toolCalls, Done: f.Done, EvalCount: f.EvalCount,
			})
		})
		if err != nil && apperror.KindOf(err) != apperror.KindChannelClosed {
			emit(ChatFrame{Model: req.Model, Done: true, Error: err.Error()})
		}
	})
}

// handleEmbed implements POST /api/embed (spec.md §4.10, §4.8).
func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req EmbedRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
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

	embeddings := make([][]float32, len(inputs))
	for i, text := range inputs {
		v, err := handle.Runner().Embed(text)
		if err != nil {
			writeError(w, apperror.StatusFor(err), err.Error())
			return
		}
		embeddings[i] = v
	}
	writeJSON(w, http.StatusOK, EmbedResponse{Model: req.Model, Embeddings: embeddings})
}

// handleTags implements GET /api/tags.
func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	models, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]ModelInfo, len(models))
	for i, m := range models {
		out[i] = ModelInfo{Name: m.Name, Tag: m.Tag, Digest: m.Digest, Size: m.TotalSize, ModifiedAt: m.ModifiedAt, Family: m.Family}
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": out})
}

// handlePs implements GET /api/ps.
func (s *Server) handlePs(w http.ResponseWriter, r *http.Request) {
	running := s.scheduler.ListRunning()
	out := make([]RunningModelInfo, len(running))
	for i, m := range running {
		out[i] = RunningModelInfo{Name: m.Name, Size: m.SizeBytes, VRAMSize: m.VRAMBytes, ExpiresAt: m.ExpiresAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": out})
}

// handleShow implements POST /api/show.
func (s *Server) handleShow(w http.ResponseWriter, r *http.Request) {
	var req ShowRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	m, err := s.store.Get(r.Context(), req.Name)
	if err != nil {
		writeError(w, apperror.StatusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ShowResponse{
		Name: m.Name, Family: m.Family, Template: m.Template, System: m.System, License: m.License,
		Size: m.TotalSize, Digest: m.Digest,
	})
}

// handlePull implements POST /api/pull, streaming PullProgress frames.
// When a queue is configured and the request asks for async=true, the
// pull is handed to the queue worker instead (SPEC_FULL.md §11): the
// job survives this request's client disconnecting, at the cost of the
// response carrying only a single "queued" frame rather than live
// progress.
func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	var req PullRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Async && s.queue.Enabled() {
		id, err := s.queue.EnqueuePull(r.Context(), req.Name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, progressFrame{Status: "queued: " + id.String()})
		return
	}

	ndjsonStream(w, r, func(emit func(frame any) bool) {
		err := s.store.Pull(r.Context(), req.Name, func(p modelstore.PullProgress) {
			emit(progressFrame{Status: p.Status, Digest: p.Digest, Total: p.Total, Completed: p.Completed, Percentage: p.Percentage})
		})
		if err != nil {
			emit(progressFrame{Status: "error: " + err.Error()})
		}
	})
}

// handlePush implements POST /api/push, streaming PushProgress frames.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req PushRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ndjsonStream(w, r, func(emit func(frame any) bool) {
		err := s.store.Push(r.Context(), req.Name, func(p modelstore.PullProgress) {
			emit(progressFrame{Status: p.Status, Digest: p.Digest, Total: p.Total, Completed: p.Completed, Percentage: p.Percentage})
		})
		if err != nil {
			emit(progressFrame{Status: "error: " + err.Error()})
		}
	})
}

// handleCreate implements POST /api/create (spec.md §4.10, §4.5's
// Modelfile composition).
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ndjsonStream(w, r, func(emit func(frame any) bool) {
		err := s.store.Create(r.Context(), req.Name, req.Modelfile, func(p modelstore.PullProgress) {
			emit(progressFrame{Status: p.Status})
		})
		if err != nil {
			emit(progressFrame{Status: "error: " + err.Error()})
		}
	})
}

// handleDelete implements DELETE /api/delete.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req DeleteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.scheduler.Stop(req.Name)
	if err := s.store.Delete(r.Context(), req.Name); err != nil {
		writeError(w, apperror.StatusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleCopy implements POST /api/copy.
func (s *Server) handleCopy(w http.ResponseWriter, r *http.Request) {
	var req CopyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.Copy(r.Context(), req.Source, req.Destination); err != nil {
		writeError(w, apperror.StatusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleBlobHead implements HEAD /api/blobs/:digest.
func (s *Server) handleBlobHead(w http.ResponseWriter, r *http.Request) {
	d := digest.Digest(mux.Vars(r)["digest"])
	if _, ok := s.store.BlobStat(d); !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleBlobUpload implements POST /api/blobs/:digest: the body is
// committed under digest, 400 on mismatch (spec.md §4.10, S2).
func (s *Server) handleBlobUpload(w http.ResponseWriter, r *http.Request) {
	d := digest.Digest(mux.Vars(r)["digest"])
	if err := s.store.CreateBlob(d, r.Body); err != nil {
		writeError(w, apperror.StatusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// handleVersion implements GET /api/version.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version})
}

// handleHealth implements GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}
