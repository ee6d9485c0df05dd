// Package rerank provides the optional RERANK_MODEL client.
// Grounded on intelligencedev-manifold's rerank.go HTTP client (a
// llama.cpp/Cohere-style /rerank endpoint: POST {model,query,documents} ->
// {results:[{index,relevance_score}]}) and its Reranker interface shape
// modeled after intelligencedev-manifold/internal/rag/retrieve/rerank.go.
package rerank

import "context"

// Candidate is one item competing for a rerank slot: Text is scored against
// the query, Ref carries the caller's own identifier through unchanged.
type Candidate struct {
	Ref  any
	Text string
}

// Scored pairs a Candidate with its relevance score, descending.
type Scored struct {
	Candidate Candidate
	Score     float64
}

// Reranker scores candidates against a query and returns them most-relevant
// first. A nil Reranker means no reranker is configured and the retriever
// falls back to vector-score ordering.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]Scored, error)
}
