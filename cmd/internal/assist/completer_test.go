package assist

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDisabledCompleter(t *testing.T) {
	_, err := Disabled{}.Complete(context.Background(), "hello")
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("want ErrDisabled, got %v", err)
	}
}

func TestFromEnvWithoutURLIsDisabled(t *testing.T) {
	t.Setenv("PULSE_ASSIST_URL", "")
	if _, ok := FromEnv().(Disabled); !ok {
		t.Fatalf("want Disabled completer")
	}
}

func TestHTTPCompleterRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			t.Errorf("authorization = %q", got)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("model = %q", req.Model)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "what is up" {
			t.Errorf("messages = %+v", req.Messages)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "  not much  "}},
			},
		})
	}))
	defer srv.Close()

	c, err := NewHTTPCompleter(srv.URL, "sekrit", "test-model", time.Second)
	if err != nil {
		t.Fatalf("NewHTTPCompleter: %v", err)
	}

	reply, err := c.Complete(context.Background(), "what is up")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "not much" {
		t.Fatalf("reply = %q", reply)
	}
}

func TestHTTPCompleterProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "slow down"},
		})
	}))
	defer srv.Close()

	c, err := NewHTTPCompleter(srv.URL, "", "", time.Second)
	if err != nil {
		t.Fatalf("NewHTTPCompleter: %v", err)
	}

	_, err = c.Complete(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "slow down") {
		t.Fatalf("want provider error, got %v", err)
	}
}

func TestHTTPCompleterEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	c, err := NewHTTPCompleter(srv.URL, "", "", time.Second)
	if err != nil {
		t.Fatalf("NewHTTPCompleter: %v", err)
	}
	if _, err := c.Complete(context.Background(), "hello"); err == nil {
		t.Fatalf("want error for empty choices")
	}
}

func TestHTTPCompleterHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server watches the connection and cancels
		// r.Context() when the client disconnects; otherwise Close deadlocks.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, err := NewHTTPCompleter(srv.URL, "", "", time.Minute)
	if err != nil {
		t.Fatalf("NewHTTPCompleter: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := c.Complete(ctx, "hello"); err == nil {
		t.Fatalf("want context error")
	}
}
