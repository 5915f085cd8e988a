package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoJSONRetriesServerError(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&count, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"x"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 1)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	var out map[string]any
	if _, err := client.DoJSON(context.Background(), req, &out); err != nil {
		t.Fatalf("DoJSON failed: %v", err)
	}
	if out["ok"] != true {
		t.Fatalf("unexpected response: %#v", out)
	}
}

func TestDoJSONPropagatesErrorBody(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"INSUFFICIENT_FUNDS","message":"transfer amount exceeds balance"}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 2)
	var out map[string]any
	_, err := GetJSON(context.Background(), client, srv.URL, nil, map[string]string{"Authorization": "Bearer k"}, &out)
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Fatalf("client errors must not be retried, got %d attempts", got)
	}
	status, ok := StatusFrom(err)
	if !ok {
		t.Fatalf("expected status error in chain, got %v", err)
	}
	if status.Status != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", status.Status)
	}
	if !strings.Contains(string(status.Body), "INSUFFICIENT_FUNDS") {
		t.Fatalf("expected body to be preserved, got %s", status.Body)
	}
}
