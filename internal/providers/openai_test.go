package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIEmbedOrdersByIndex(t *testing.T) {
	var gotDims any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotDims = body["dimensions"]
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()
	t.Setenv("RAGPIPE_OPENAI_BASE_URL", srv.URL)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	p := NewOpenAIProvider("")
	vectors, _, err := p.Embed(context.Background(), EmbedRequest{Inputs: []string{"x", "y"}, Dimension: 2})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if vectors[0][0] != 1 || vectors[1][1] != 1 {
		t.Fatalf("vectors not in input order: %#v", vectors)
	}
	if gotDims != float64(2) {
		t.Fatalf("expected dimensions=2 in request, got %v", gotDims)
	}
}

func TestOpenAIEmbedErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()
	t.Setenv("RAGPIPE_OPENAI_BASE_URL", srv.URL)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	_, _, err := NewOpenAIProvider("").Embed(context.Background(), EmbedRequest{Inputs: []string{"x"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if ClassifyError(err) != ErrorRate {
		t.Fatalf("expected rate classification, got %s", ClassifyError(err))
	}
}
