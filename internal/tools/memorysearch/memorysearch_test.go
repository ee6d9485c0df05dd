package memorysearch

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fluviusmagnus/Seelenmaschine/internal/datetime"
	"github.com/fluviusmagnus/Seelenmaschine/internal/store"
	"github.com/fluviusmagnus/Seelenmaschine/pkg/models"
)

type fixedActive struct{ id int64 }

func (f fixedActive) ActiveSessionID(ctx context.Context) (int64, error) { return f.id, nil }

func newFixture(t *testing.T) (*store.Store, *SearchTool, int64) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "test.db"), 3)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	// Two archived sessions plus one active session all mention the phrase.
	for i := 0; i < 2; i++ {
		sess, err := st.CreateSession(ctx, int64(100+i))
		if err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		if _, err := st.AppendTurn(ctx, sess.ID, models.RoleUser, "Anna loves piano", int64(110+i)); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
		if err := st.ArchiveSession(ctx, sess.ID, int64(150+i)); err != nil {
			t.Fatalf("ArchiveSession: %v", err)
		}
	}
	active, err := st.CreateSession(ctx, 300)
	if err != nil {
		t.Fatalf("CreateSession active: %v", err)
	}
	if _, err := st.AppendTurn(ctx, active.ID, models.RoleUser, "Anna loves piano", 301); err != nil {
		t.Fatalf("AppendTurn active: %v", err)
	}

	tool := New(st, fixedActive{id: active.ID}, datetime.NewHumanizer("UTC"), time.UTC)
	return st, tool, active.ID
}

func TestSearchExcludesActiveSession(t *testing.T) {
	_, tool, _ := newFixture(t)

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"query": "Anna AND piano"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}

	var payload struct {
		Results []searchHit `json:"results"`
	}
	if err := json.Unmarshal([]byte(res.Content), &payload); err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if len(payload.Results) != 2 {
		t.Fatalf("expected the two archived hits only, got %d", len(payload.Results))
	}
}

func TestSearchBadQuery(t *testing.T) {
	_, tool, _ := newFixture(t)

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"query": "\"unbalanced"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError || !strings.Contains(res.Content, "bad_query") {
		t.Fatalf("expected bad_query error result, got %+v", res)
	}
}

func TestSearchRoleFilter(t *testing.T) {
	_, tool, _ := newFixture(t)

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"query": "piano", "role": "assistant"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if res.Content != "no memories matched" {
		t.Fatalf("role filter should drop the user turns, got %s", res.Content)
	}
}

func TestSearchMissingQuery(t *testing.T) {
	_, tool, _ := newFixture(t)

	res, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected error result for missing query")
	}
}
