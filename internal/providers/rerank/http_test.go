package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPRerankerOrdersByScore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Documents) != 2 {
			t.Fatalf("expected 2 documents, got %d", len(req.Documents))
		}
		resp := rerankResponse{Results: []rerankResult{
			{Index: 0, RelevanceScore: 0.1},
			{Index: 1, RelevanceScore: 0.9},
		}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	r := NewHTTPReranker(server.URL, "", "test-model")
	scored, err := r.Rerank(context.Background(), "query", []Candidate{
		{Ref: "a", Text: "low relevance"},
		{Ref: "b", Text: "high relevance"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scored) != 2 || scored[0].Candidate.Ref != "b" {
		t.Fatalf("expected highest-scoring candidate first, got %+v", scored)
	}
}

func TestHTTPRerankerEmptyCandidates(t *testing.T) {
	r := NewHTTPReranker("http://unused", "", "m")
	scored, err := r.Rerank(context.Background(), "q", nil)
	if err != nil || scored != nil {
		t.Fatalf("expected nil,nil for empty candidates, got %+v, %v", scored, err)
	}
}
