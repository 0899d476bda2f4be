// Package httpapi implements the HTTP Surface from spec.md §4.10: the
// native ndjson dialect, an OpenAI-compatible SSE dialect translated
// on top of it, and the host-allowlist guard. Grounded on the
// teacher's main.go router assembly (one *mux.Router, subrouters per
// API family, a global logging/CORS middleware) and
// pkg/middleware/auth.go's challenge-response shape, repurposed here
// for a host check instead of a bearer-token challenge (SPEC_FULL.md
// §10's Open Question note: local requests are host-allowlisted only).
package httpapi

import (
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/modelhost/modelhost/pkg/config"
	"github.com/modelhost/modelhost/pkg/modelstore"
	"github.com/modelhost/modelhost/pkg/queue"
	"github.com/modelhost/modelhost/pkg/scheduler"
)

const version = "0.1.0"

// Server holds the application state shared into every handler
// (spec.md §9's "pass explicit service handles down from the program
// entrypoint; avoid hidden globals").
type Server struct {
	cfg       *config.Config
	store     *modelstore.Store
	scheduler *scheduler.Scheduler
	queue     *queue.Service // nil when no queue is configured; pulls run synchronously
	allowed   map[string]bool
}

func New(cfg *config.Config, store *modelstore.Store, sched *scheduler.Scheduler, q *queue.Service) *Server {
	allowed := map[string]bool{
		"localhost": true,
		"127.0.0.1": true,
		"0.0.0.0":   true,
	}
	for _, h := range cfg.AllowedOrigins {
		allowed[h] = true
	}
	return &Server{cfg: cfg, store: store, scheduler: sched, queue: q, allowed: allowed}
}

// Router builds the full route table: native dialect under /api,
// OpenAI-compatible dialect under /v1, wrapped in the host-allowlist
// guard and a request-logging middleware.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/generate", s.handleGenerate).Methods("POST")
	api.HandleFunc("/chat", s.handleChat).Methods("POST")
	api.HandleFunc("/embed", s.handleEmbed).Methods("POST")
	api.HandleFunc("/tags", s.handleTags).Methods("GET")
	api.HandleFunc("/ps", s.handlePs).Methods("GET")
	api.HandleFunc("/show", s.handleShow).Methods("POST")
	api.HandleFunc("/pull", s.handlePull).Methods("POST")
	api.HandleFunc("/push", s.handlePush).Methods("POST")
	api.HandleFunc("/create", s.handleCreate).Methods("POST")
	api.HandleFunc("/delete", s.handleDelete).Methods("DELETE")
	api.HandleFunc("/copy", s.handleCopy).Methods("POST")
	api.HandleFunc("/blobs/{digest}", s.handleBlobHead).Methods("HEAD")
	api.HandleFunc("/blobs/{digest}", s.handleBlobUpload).Methods("POST")
	api.HandleFunc("/version", s.handleVersion).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/chat/completions", s.handleOpenAIChatCompletions).Methods("POST")
	v1.HandleFunc("/completions", s.handleOpenAICompletions).Methods("POST")
	v1.HandleFunc("/embeddings", s.handleOpenAIEmbeddings).Methods("POST")
	v1.HandleFunc("/models", s.handleOpenAIModels).Methods("GET")

	return s.logMiddleware(s.hostAllowlist(r))
}

// hostAllowlist implements spec.md §4.10's guard: by default only
// localhost/127.0.0.1/0.0.0.0 (with any port) are accepted in the
// Host header; everything else is 403.
func (s *Server) hostAllowlist(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if !s.allowed[host] {
			log.Printf("[httpapi] rejecting request from disallowed host %q", r.Host)
			http.Error(w, "host not allowed", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("[httpapi] %s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
