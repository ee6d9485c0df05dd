// Package retriever performs two-stage recall of summaries and turns
// relevant to the current user turn: embed the query inputs, vector-search
// summaries outside the active session, then vector-search each matched
// session's turns, with optional reranking on top.
package retriever

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/fluviusmagnus/Seelenmaschine/internal/datetime"
	"github.com/fluviusmagnus/Seelenmaschine/internal/providers/rerank"
	"github.com/fluviusmagnus/Seelenmaschine/internal/store"
	"github.com/fluviusmagnus/Seelenmaschine/pkg/models"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Params are the configurable recall widths.
type Params struct {
	RecallSummaryPerQuery int
	RecallConvPerSummary  int
	RerankTopSummaries    int
	RerankTopConvs        int
}

// Retriever performs two-stage recall against the Store.
type Retriever struct {
	store     *store.Store
	embedder  Embedder
	reranker  rerank.Reranker // nil is valid: falls back to vector-score ordering
	humanizer *datetime.Humanizer
	params    Params
	log       *slog.Logger

	mu            sync.Mutex
	lastAssistant string
	lastAssistVec []float32
}

// New builds a Retriever. reranker may be nil; ordering then falls back to
// vector scores.
func New(st *store.Store, embedder Embedder, reranker rerank.Reranker, humanizer *datetime.Humanizer, params Params, log *slog.Logger) *Retriever {
	if log == nil {
		log = slog.Default()
	}
	return &Retriever{store: st, embedder: embedder, reranker: reranker, humanizer: humanizer, params: params, log: log.With("component", "retriever")}
}

type candidateSummary struct {
	summary models.Summary
	score   float64
}

type candidateTurn struct {
	turn  models.Turn
	score float64
}

// Recall runs the two-stage pipeline for one user turn.
func (r *Retriever) Recall(ctx context.Context, userInput, lastAssistantText string, activeSessionID int64) (models.RetrievalResult, error) {
	queryVecs, err := r.embedQueries(ctx, userInput, lastAssistantText)
	if err != nil {
		r.log.Warn("embedding failed during recall, returning empty result", "error", err)
		return models.RetrievalResult{}, nil
	}
	if len(queryVecs) == 0 {
		return models.RetrievalResult{}, nil
	}

	summaries, err := r.gatherSummaries(ctx, queryVecs, activeSessionID)
	if err != nil {
		return models.RetrievalResult{}, err
	}

	turns, err := r.gatherTurns(ctx, queryVecs, summaries)
	if err != nil {
		return models.RetrievalResult{}, err
	}

	rankedSummaries, rankedTurns := r.rank(ctx, userInput, summaries, turns)

	if len(rankedSummaries) > r.params.RerankTopSummaries {
		rankedSummaries = rankedSummaries[:r.params.RerankTopSummaries]
	}
	if len(rankedTurns) > r.params.RerankTopConvs {
		rankedTurns = rankedTurns[:r.params.RerankTopConvs]
	}

	return models.RetrievalResult{
		Summaries: toRetrievedSummaries(rankedSummaries, r.humanizer),
		Turns:     toRetrievedTurns(rankedTurns, r.humanizer),
	}, nil
}

func (r *Retriever) embedQueries(ctx context.Context, userInput, lastAssistantText string) ([][]float32, error) {
	userVec, err := r.embedder.Embed(ctx, userInput)
	if err != nil {
		return nil, err
	}
	vecs := [][]float32{userVec}

	if lastAssistantText == "" {
		return vecs, nil
	}

	r.mu.Lock()
	cached := lastAssistantText == r.lastAssistant
	var assistVec []float32
	if cached {
		assistVec = r.lastAssistVec
	}
	r.mu.Unlock()

	if !cached {
		assistVec, err = r.embedder.Embed(ctx, lastAssistantText)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.lastAssistant = lastAssistantText
		r.lastAssistVec = assistVec
		r.mu.Unlock()
	}
	return append(vecs, assistVec), nil
}

func (r *Retriever) gatherSummaries(ctx context.Context, queryVecs [][]float32, activeSessionID int64) ([]candidateSummary, error) {
	seen := make(map[int64]candidateSummary)
	capLimit := 2 * r.params.RecallSummaryPerQuery
	for _, qv := range queryVecs {
		hits, err := r.store.VectorSearch(ctx, store.KindSummary, qv, r.params.RecallSummaryPerQuery, store.SearchFilter{ExcludeSessionID: activeSessionID})
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if existing, ok := seen[h.ID]; ok && existing.score >= h.Score {
				continue
			}
			sm, err := r.store.GetSummaryByID(ctx, h.ID)
			if err != nil {
				continue
			}
			seen[h.ID] = candidateSummary{summary: *sm, score: h.Score}
		}
	}
	out := make([]candidateSummary, 0, len(seen))
	for _, c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].summary.LastTS > out[j].summary.LastTS
	})
	if len(out) > capLimit {
		out = out[:capLimit]
	}
	return out, nil
}

func (r *Retriever) gatherTurns(ctx context.Context, queryVecs [][]float32, summaries []candidateSummary) ([]candidateTurn, error) {
	seen := make(map[int64]candidateTurn)
	capLimit := 2 * r.params.RecallSummaryPerQuery * r.params.RecallConvPerSummary
	for _, sm := range summaries {
		for _, qv := range queryVecs {
			hits, err := r.store.VectorSearch(ctx, store.KindTurn, qv, r.params.RecallConvPerSummary, store.SearchFilter{SessionID: sm.summary.SessionID})
			if err != nil {
				return nil, err
			}
			for _, h := range hits {
				if existing, ok := seen[h.ID]; ok && existing.score >= h.Score {
					continue
				}
				t, err := r.store.GetTurnByID(ctx, h.ID)
				if err != nil {
					continue
				}
				seen[h.ID] = candidateTurn{turn: *t, score: h.Score}
			}
		}
	}
	out := make([]candidateTurn, 0, len(seen))
	for _, c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].turn.TS > out[j].turn.TS
	})
	if len(out) > capLimit {
		out = out[:capLimit]
	}
	return out, nil
}

// rank applies the reranker (if configured) or falls back to the existing
// vector-score ordering.
func (r *Retriever) rank(ctx context.Context, userInput string, summaries []candidateSummary, turns []candidateTurn) ([]candidateSummary, []candidateTurn) {
	if r.reranker == nil {
		return summaries, turns
	}

	sumCandidates := make([]rerank.Candidate, len(summaries))
	for i, s := range summaries {
		sumCandidates[i] = rerank.Candidate{Ref: i, Text: s.summary.Text}
	}
	turnCandidates := make([]rerank.Candidate, len(turns))
	for i, t := range turns {
		turnCandidates[i] = rerank.Candidate{Ref: i, Text: t.turn.Text}
	}

	rankedSummaries, errS := r.reranker.Rerank(ctx, userInput, sumCandidates)
	rankedTurns, errT := r.reranker.Rerank(ctx, userInput, turnCandidates)
	if errS != nil || errT != nil {
		r.log.Warn("rerank failed, falling back to vector-score ordering", "error_summaries", errS, "error_turns", errT)
		return summaries, turns
	}

	// Equal rerank scores: the more recent item wins.
	sort.SliceStable(rankedSummaries, func(i, j int) bool {
		if rankedSummaries[i].Score != rankedSummaries[j].Score {
			return rankedSummaries[i].Score > rankedSummaries[j].Score
		}
		return summaries[rankedSummaries[i].Candidate.Ref.(int)].summary.LastTS > summaries[rankedSummaries[j].Candidate.Ref.(int)].summary.LastTS
	})
	sort.SliceStable(rankedTurns, func(i, j int) bool {
		if rankedTurns[i].Score != rankedTurns[j].Score {
			return rankedTurns[i].Score > rankedTurns[j].Score
		}
		return turns[rankedTurns[i].Candidate.Ref.(int)].turn.TS > turns[rankedTurns[j].Candidate.Ref.(int)].turn.TS
	})

	outSummaries := make([]candidateSummary, len(rankedSummaries))
	for i, sc := range rankedSummaries {
		outSummaries[i] = summaries[sc.Candidate.Ref.(int)]
	}
	outTurns := make([]candidateTurn, len(rankedTurns))
	for i, sc := range rankedTurns {
		outTurns[i] = turns[sc.Candidate.Ref.(int)]
	}
	return outSummaries, outTurns
}

func toRetrievedSummaries(in []candidateSummary, h *datetime.Humanizer) []models.RetrievedSummary {
	out := make([]models.RetrievedSummary, len(in))
	for i, c := range in {
		out[i] = models.RetrievedSummary{
			Text:      c.summary.Text,
			HumanTime: h.Format(c.summary.LastTS),
			SummaryID: c.summary.ID,
			SessionID: c.summary.SessionID,
			Score:     float32(c.score),
		}
	}
	return out
}

func toRetrievedTurns(in []candidateTurn, h *datetime.Humanizer) []models.RetrievedTurn {
	out := make([]models.RetrievedTurn, len(in))
	for i, c := range in {
		out[i] = models.RetrievedTurn{
			Role:      c.turn.Role,
			Text:      c.turn.Text,
			HumanTime: h.Format(c.turn.TS),
			TurnID:    c.turn.ID,
			SessionID: c.turn.SessionID,
			Score:     float32(c.score),
		}
	}
	return out
}
