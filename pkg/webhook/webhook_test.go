package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNotifyNoopWhenNoURLConfigured(t *testing.T) {
	s := New("")
	if err := s.Notify(context.Background(), Event{Action: "pull"}); err != nil {
		t.Errorf("Notify with no URL should be a no-op, got %v", err)
	}
}

func TestNotifyNilServiceIsNoop(t *testing.T) {
	var s *Service
	if err := s.Notify(context.Background(), Event{Action: "pull"}); err != nil {
		t.Errorf("Notify on a nil *Service should be a no-op, got %v", err)
	}
}

func TestNotifyPostsEventPayload(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected JSON content type, got %q", r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := New(srv.URL)
	event := Event{Action: "pull", Name: "llama3", Tag: "8b"}
	if err := s.Notify(context.Background(), event); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got.Action != "pull" || got.Name != "llama3" || got.Tag != "8b" {
		t.Errorf("server received %+v, want %+v", got, event)
	}
}

func TestNotifyErrorsOn4xxResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s := New(srv.URL)
	if err := s.Notify(context.Background(), Event{Action: "push"}); err == nil {
		t.Errorf("Notify should return an error when the endpoint responds 4xx")
	}
}
