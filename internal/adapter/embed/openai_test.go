package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"kbase/internal/domain"
)

func TestNewOpenAI_Validation(t *testing.T) {
	if _, err := NewOpenAI("", "text-embedding-3-small"); err == nil {
		t.Error("expected error for empty api key")
	}

	// Unknown model without a configured dimension cannot be sized.
	if _, err := NewOpenAI("key", "mystery-model"); err == nil {
		t.Error("expected error for unknown model without dimension")
	}

	// Unknown model with an explicit dimension is fine.
	e, err := NewOpenAI("key", "mystery-model", func(o *Options) { o.Dimension = 512 })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Dimension() != 512 {
		t.Errorf("expected dimension 512, got %d", e.Dimension())
	}
}

func TestNewOpenAI_DimensionMismatchIsFatal(t *testing.T) {
	_, err := NewOpenAI("key", "text-embedding-3-small", func(o *Options) { o.Dimension = 384 })
	var mismatch *domain.DimensionMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected DimensionMismatchError, got %v", err)
	}
	if mismatch.Expected != 1536 || mismatch.Actual != 384 {
		t.Errorf("wrong mismatch detail: %+v", mismatch)
	}
}

func TestNewOpenAI_KnownModelDefaults(t *testing.T) {
	e, err := NewOpenAI("key", "all-minilm")
	if err != nil {
		t.Fatal(err)
	}
	if e.Dimension() != 384 {
		t.Errorf("expected model default 384, got %d", e.Dimension())
	}
	if e.ModelName() != "all-minilm" {
		t.Errorf("unexpected model name %s", e.ModelName())
	}
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func newEmbeddingsServer(t *testing.T, dim int, fail *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail != nil && *fail > 0 {
			*fail--
			http.Error(w, "overloaded", http.StatusTooManyRequests)
			return
		}

		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}

		var resp embeddingsResponse
		for i := range req.Input {
			vec := make([]float32, dim)
			vec[i%dim] = 1
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: vec})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestEmbed_AgainstCompatibleEndpoint(t *testing.T) {
	srv := newEmbeddingsServer(t, 8, nil)
	defer srv.Close()

	e, err := NewOpenAI("test-key", "custom-model", func(o *Options) {
		o.BaseURL = srv.URL
		o.Dimension = 8
		o.RequestsPerSec = 0
		o.MaxRetries = 0
	})
	if err != nil {
		t.Fatal(err)
	}

	vectors, err := e.Embed(context.Background(), []string{"first", "second", "third"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vectors) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vectors))
	}
	for i, v := range vectors {
		if len(v) != 8 {
			t.Errorf("vector %d has dimension %d", i, len(v))
		}
		if v[i%8] != 1 {
			t.Errorf("vector %d not mapped back by index", i)
		}
	}
}

func TestEmbed_RetriesTransientFailures(t *testing.T) {
	failures := 2
	srv := newEmbeddingsServer(t, 4, &failures)
	defer srv.Close()

	e, err := NewOpenAI("test-key", "custom-model", func(o *Options) {
		o.BaseURL = srv.URL
		o.Dimension = 4
		o.RequestsPerSec = 0
		o.MaxRetries = 3
	})
	if err != nil {
		t.Fatal(err)
	}

	vectors, err := e.Embed(context.Background(), []string{"persistent"})
	if err != nil {
		t.Fatalf("expected retries to recover, got %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("expected 1 vector, got %d", len(vectors))
	}
}

func TestEmbed_ExhaustedRetriesSurfaceAsUnavailable(t *testing.T) {
	failures := 100
	srv := newEmbeddingsServer(t, 4, &failures)
	defer srv.Close()

	e, err := NewOpenAI("test-key", "custom-model", func(o *Options) {
		o.BaseURL = srv.URL
		o.Dimension = 4
		o.RequestsPerSec = 0
		o.MaxRetries = 1
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.Embed(context.Background(), []string{"doomed"}); !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Errorf("expected ErrEmbeddingUnavailable, got %v", err)
	}
}

func TestEmbed_EmptyInput(t *testing.T) {
	e, err := NewOpenAI("key", "all-minilm")
	if err != nil {
		t.Fatal(err)
	}
	vectors, err := e.Embed(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(vectors) != 0 {
		t.Errorf("expected no vectors, got %d", len(vectors))
	}
}
