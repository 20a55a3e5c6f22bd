package embedding

import (
	"context"
	"encoding/json"
	"hookq/internal/config"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmbedParsesVector(t *testing.T) {
	var got embedRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"embedding":[0.5,0.25,1]}]}`))
	}))
	defer srv.Close()

	c := New(config.Embedding{URL: srv.URL, APIKey: "k", Model: "m", Dimension: 3})
	v := c.Embed(context.Background(), "hello")

	if len(v) != 3 || v[0] != 0.5 || v[2] != 1 {
		t.Fatalf("vector = %v", v)
	}
	if auth != "Bearer k" || got.Model != "m" || got.Input != "hello" {
		t.Errorf("auth=%q request=%+v", auth, got)
	}
}

func TestEmbedFallsBackToPlaceholder(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non-200", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) }},
		{"bad json", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("{")) }},
		{"empty data", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"data":[]}`)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := New(config.Embedding{URL: srv.URL, Dimension: 8})
			v := c.Embed(context.Background(), "x")
			if len(v) != 8 {
				t.Fatalf("len = %d", len(v))
			}
			for _, f := range v {
				if f != PlaceholderValue {
					t.Fatalf("vector = %v", v)
				}
			}
		})
	}
}

func TestEmbedUnconfiguredUsesDefaultDimension(t *testing.T) {
	c := New(config.Embedding{})
	if v := c.Embed(context.Background(), "x"); len(v) != 1536 {
		t.Fatalf("len = %d", len(v))
	}
}
