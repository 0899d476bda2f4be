package httpapi

import (
	"encoding/json"
	"net/http"
)

// ndjsonStream implements spec.md §4.10/§9's streaming mechanics: a
// bounded channel of capacity 100 frames, filled by a producer
// goroutine and drained by the handler onto the response. Dropping
// the response (client disconnect) is detected via r.Context().Done,
// which is threaded back into the producer's emit callback so the
// generator loop can stop at the next token boundary (spec.md §5).
func ndjsonStream(w http.ResponseWriter, r *http.Request, produce func(emit func(frame any) bool)) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)

	frames := make(chan any, 100)

	go func() {
		defer close(frames)
		emit := func(frame any) bool {
			select {
			case frames <- frame:
				return true
			case <-r.Context().Done():
				return false
			}
		}
		produce(emit)
	}()

	enc := json.NewEncoder(w)
	for frame := range frames {
		if err := enc.Encode(frame); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// sseStream is the OpenAI-compatible counterpart: each frame is
// written as "data: <json>\n\n", terminated by "data: [DONE]\n\n"
// (spec.md §6).
func sseStream(w http.ResponseWriter, r *http.Request, produce func(emit func(frame any) bool)) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)

	frames := make(chan any, 100)

	go func() {
		defer close(frames)
		emit := func(frame any) bool {
			select {
			case frames <- frame:
				return true
			case <-r.Context().Done():
				return false
			}
		}
		produce(emit)
	}()

	for frame := range frames {
		b, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			return
		}
		if _, err := w.Write(b); err != nil {
			return
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	w.Write([]byte("data: [DONE]\n\n"))
	if flusher != nil {
		flusher.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
