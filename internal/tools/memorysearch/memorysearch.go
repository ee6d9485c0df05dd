// Package memorysearch implements the built-in search_memories tool:
// boolean full-text recall over past turns and summaries with an optional
// role/time filter, always excluding the active session.
package memorysearch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fluviusmagnus/Seelenmaschine/internal/datetime"
	"github.com/fluviusmagnus/Seelenmaschine/internal/store"
	"github.com/fluviusmagnus/Seelenmaschine/internal/tools"
	"github.com/fluviusmagnus/Seelenmaschine/pkg/apperr"
	"github.com/fluviusmagnus/Seelenmaschine/pkg/models"
)

const defaultLimit = 8

// ActiveSession supplies the session to exclude from every search.
type ActiveSession interface {
	ActiveSessionID(ctx context.Context) (int64, error)
}

// SearchTool searches stored turns and summaries by FTS query.
type SearchTool struct {
	store     *store.Store
	active    ActiveSession
	humanizer *datetime.Humanizer
	loc       *time.Location
}

var _ tools.Tool = (*SearchTool)(nil)

// New builds the search_memories tool. loc is the configured IANA zone used
// to interpret date filters; humanizer renders result timestamps.
func New(st *store.Store, active ActiveSession, humanizer *datetime.Humanizer, loc *time.Location) *SearchTool {
	if loc == nil {
		loc = time.UTC
	}
	return &SearchTool{store: st, active: active, humanizer: humanizer, loc: loc}
}

func (t *SearchTool) Name() string { return "search_memories" }

func (t *SearchTool) Description() string {
	return "Search past conversations and summaries by keyword. Supports boolean " +
		"queries with AND/OR/NOT, exact phrases in double quotes, and prefix matching " +
		"with *. Optionally filter by speaker role or time range."
}

func (t *SearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Boolean full-text query, e.g. '(movie OR music) NOT horror'"},
    "role": {"type": "string", "enum": ["user", "assistant"], "description": "Only return turns spoken by this role"},
    "time_period": {"type": "string", "enum": ["today", "yesterday", "last_week", "last_month"], "description": "Restrict to a named recent period"},
    "start_date": {"type": "string", "description": "Earliest date to include, YYYY-MM-DD"},
    "end_date": {"type": "string", "description": "Latest date to include, YYYY-MM-DD"},
    "limit": {"type": "integer", "description": "Maximum results per kind, default 8"}
  },
  "required": ["query"]
}`)
}

type searchInput struct {
	Query      string `json:"query"`
	Role       string `json:"role"`
	TimePeriod string `json:"time_period"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Limit      int    `json:"limit"`
}

type searchHit struct {
	Kind string `json:"kind"`
	Role string `json:"role,omitempty"`
	Text string `json:"text"`
	Time string `json:"time"`
}

// Execute runs the search. Malformed FTS syntax comes back as an IsError
// result tagged bad_query so the LLM can correct itself and retry.
func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input searchInput
	if err := json.Unmarshal(params, &input); err != nil {
		return &tools.Result{Content: fmt.Sprintf("invalid params: %v", err), IsError: true}, nil
	}
	if strings.TrimSpace(input.Query) == "" {
		return &tools.Result{Content: "query is required", IsError: true}, nil
	}

	limit := input.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	fromTS, toTS, err := t.timeRange(input)
	if err != nil {
		return &tools.Result{Content: err.Error(), IsError: true}, nil
	}

	activeID, err := t.active.ActiveSessionID(ctx)
	if err != nil {
		return &tools.Result{Content: "could not resolve active session: " + err.Error(), IsError: true}, nil
	}
	filter := store.SearchFilter{ExcludeSessionID: activeID}

	// Over-fetch so post-hoc role/time filtering still fills the limit.
	fetchK := limit * 4

	turnHits, err := t.store.FTSSearch(ctx, store.KindTurn, input.Query, filter, fetchK)
	if err != nil {
		if apperr.Is(err, apperr.KindBadQuery) {
			return &tools.Result{Content: "[bad_query] " + err.Error(), IsError: true}, nil
		}
		return &tools.Result{Content: "search failed: " + err.Error(), IsError: true}, nil
	}
	summaryHits, err := t.store.FTSSearch(ctx, store.KindSummary, input.Query, filter, fetchK)
	if err != nil {
		return &tools.Result{Content: "search failed: " + err.Error(), IsError: true}, nil
	}

	var hits []searchHit
	for _, h := range turnHits {
		turn, err := t.store.GetTurnByID(ctx, h.ID)
		if err != nil {
			continue
		}
		if input.Role != "" && turn.Role != models.Role(input.Role) {
			continue
		}
		if !inRange(turn.TS, fromTS, toTS) {
			continue
		}
		hits = append(hits, searchHit{Kind: "turn", Role: string(turn.Role), Text: turn.Text, Time: t.humanizer.Format(turn.TS)})
		if countKind(hits, "turn") >= limit {
			break
		}
	}
	if input.Role == "" {
		for _, h := range summaryHits {
			sm, err := t.store.GetSummaryByID(ctx, h.ID)
			if err != nil {
				continue
			}
			if !inRange(sm.LastTS, fromTS, toTS) {
				continue
			}
			hits = append(hits, searchHit{Kind: "summary", Text: sm.Text, Time: t.humanizer.Format(sm.LastTS)})
			if countKind(hits, "summary") >= limit {
				break
			}
		}
	}

	if len(hits) == 0 {
		return &tools.Result{Content: "no memories matched"}, nil
	}

	payload, err := json.MarshalIndent(struct {
		Query   string      `json:"query"`
		Results []searchHit `json:"results"`
	}{Query: input.Query, Results: hits}, "", "  ")
	if err != nil {
		return &tools.Result{Content: "failed to encode results: " + err.Error(), IsError: true}, nil
	}
	return &tools.Result{Content: string(payload)}, nil
}

// timeRange resolves the named period or explicit dates to an epoch-second
// window [from, to); 0 bounds mean unbounded.
func (t *SearchTool) timeRange(input searchInput) (int64, int64, error) {
	now := time.Unix(datetime.Now(), 0).In(t.loc)
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, t.loc)

	switch input.TimePeriod {
	case "":
	case "today":
		return startOfDay.Unix(), 0, nil
	case "yesterday":
		return startOfDay.AddDate(0, 0, -1).Unix(), startOfDay.Unix(), nil
	case "last_week":
		return startOfDay.AddDate(0, 0, -7).Unix(), 0, nil
	case "last_month":
		return startOfDay.AddDate(0, -1, 0).Unix(), 0, nil
	default:
		return 0, 0, fmt.Errorf("unknown time_period %q", input.TimePeriod)
	}

	var from, to int64
	if input.StartDate != "" {
		d, err := time.ParseInLocation("2006-01-02", input.StartDate, t.loc)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid start_date %q, expected YYYY-MM-DD", input.StartDate)
		}
		from = d.Unix()
	}
	if input.EndDate != "" {
		d, err := time.ParseInLocation("2006-01-02", input.EndDate, t.loc)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid end_date %q, expected YYYY-MM-DD", input.EndDate)
		}
		to = d.AddDate(0, 0, 1).Unix() // end of that day
	}
	return from, to, nil
}

func inRange(ts, from, to int64) bool {
	if from != 0 && ts < from {
		return false
	}
	if to != 0 && ts >= to {
		return false
	}
	return true
}

func countKind(hits []searchHit, kind string) int {
	n := 0
	for _, h := range hits {
		if h.Kind == kind {
			n++
		}
	}
	return n
}
