package interruption

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPTransport_InferPostsWindowAndDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer auth header, got %q", r.Header.Get("Authorization"))
		}
		var req InferenceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.RequestID != "req-1" {
			t.Fatalf("RequestID = %q, want req-1", req.RequestID)
		}
		_ = json.NewEncoder(w).Encode(InferenceResponse{RequestID: req.RequestID, Probabilities: []float64{0.1, 0.2}})
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, "secret", time.Second)
	resp, err := tr.Infer(context.Background(), InferenceRequest{RequestID: "req-1", PCM: []float32{0.1, 0.2}})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if len(resp.Probabilities) != 2 {
		t.Fatalf("Probabilities = %v, want 2 entries", resp.Probabilities)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestHTTPTransport_NonOKStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, "", time.Second)
	if _, err := tr.Infer(context.Background(), InferenceRequest{RequestID: "req-1"}); err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}
