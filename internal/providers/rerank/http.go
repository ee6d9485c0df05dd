package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"

	"github.com/fluviusmagnus/Seelenmaschine/pkg/apperr"
)

// HTTPReranker calls a /rerank-style endpoint (llama.cpp, Cohere-compatible,
// TEI, etc.): POST {model, query, documents} -> {results:[{index,relevance_score}]}.
type HTTPReranker struct {
	client *http.Client
	url    string
	apiKey string
	model  string
}

var _ Reranker = (*HTTPReranker)(nil)

// NewHTTPReranker builds a client against url (the full /rerank endpoint).
// apiKey, when non-empty, is sent as a Bearer token.
func NewHTTPReranker(url, apiKey, model string) *HTTPReranker {
	return &HTTPReranker{client: &http.Client{}, url: url, apiKey: apiKey, model: model}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	TopN      int      `json:"top_n"`
	Documents []string `json:"documents"`
}

type rerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
}

// Rerank scores every candidate against query and returns them sorted by
// descending relevance. Ties keep the input order (the sort is stable).
func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Scored, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Text
	}

	payload, err := json.Marshal(rerankRequest{Model: r.model, Query: query, TopN: len(candidates), Documents: docs})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, "rerank.http.marshal", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, "rerank.http.new_request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, "rerank.http.do", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, apperr.New(apperr.KindUpstreamFailure, "rerank.http.do", string(body))
	}

	var decoded rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, "rerank.http.decode", err)
	}

	scores := make([]float64, len(candidates))
	for _, res := range decoded.Results {
		if res.Index >= 0 && res.Index < len(scores) {
			scores[res.Index] = res.RelevanceScore
		}
	}

	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		out[i] = Scored{Candidate: c, Score: scores[i]}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}
