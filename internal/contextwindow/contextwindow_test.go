package contextwindow

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/fluviusmagnus/Seelenmaschine/internal/store"
	"github.com/fluviusmagnus/Seelenmaschine/pkg/models"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type fakeSummarizer struct {
	calls int
}

func (f *fakeSummarizer) Summarize(ctx context.Context, turns []models.Turn, last *models.Summary, profile json.RawMessage) (SummarizeResult, error) {
	f.calls++
	return SummarizeResult{Text: "a summary"}, nil
}

type fakePersona struct{}

func (fakePersona) Snapshot() json.RawMessage       { return json.RawMessage(`{}`) }
func (fakePersona) ApplyPatch(models.JSONPatch) error { return nil }

func newTestWindow(t *testing.T, params Params) (*Window, *fakeSummarizer) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(context.Background(), path, 3)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	summarizer := &fakeSummarizer{}
	w := New(st, summarizer, fakeEmbedder{}, fakePersona{}, params, nil)
	return w, summarizer
}

// TestCompactionBoundary exercises the threshold rule directly: at TRIGGER
// total uncondensed turns, the oldest (TRIGGER-KEEP_MIN) are condensed and
// the tail holds exactly KEEP_MIN turns afterward.
func TestCompactionBoundary(t *testing.T) {
	ctx := context.Background()
	w, summarizer := newTestWindow(t, Params{KeepMin: 12, TriggerSummary: 24, RecentSummariesMax: 3})

	var lastCompact bool
	for i := 0; i < 23; i++ {
		_, compact, err := w.Append(ctx, models.RoleUser, "turn")
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if compact {
			t.Fatalf("turn %d should not have triggered compaction", i+1)
		}
	}

	_, lastCompact, err := w.Append(ctx, models.RoleUser, "turn24")
	if err != nil {
		t.Fatalf("append 24: %v", err)
	}
	if !lastCompact {
		t.Fatalf("24th turn should trigger compaction")
	}

	if err := w.CompactIfNeeded(ctx); err != nil {
		t.Fatalf("CompactIfNeeded: %v", err)
	}
	if summarizer.calls != 1 {
		t.Fatalf("expected exactly one summarisation call, got %d", summarizer.calls)
	}

	tail, err := w.Tail(ctx)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(tail) != 12 {
		t.Fatalf("expected tail of 12 turns after compaction, got %d", len(tail))
	}

	// No further compaction should fire until another 24 uncondensed turns accumulate.
	if err := w.CompactIfNeeded(ctx); err != nil {
		t.Fatalf("second CompactIfNeeded: %v", err)
	}
	if summarizer.calls != 1 {
		t.Fatalf("compaction must not re-fire without new uncondensed turns, calls=%d", summarizer.calls)
	}
}

func TestResetHardDeletesSession(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWindow(t, Params{KeepMin: 2, TriggerSummary: 4, RecentSummariesMax: 3})

	sess, err := w.EnsureActiveSession(ctx)
	if err != nil {
		t.Fatalf("EnsureActiveSession: %v", err)
	}
	if _, _, err := w.Append(ctx, models.RoleUser, "hello"); err != nil {
		t.Fatalf("append: %v", err)
	}

	fresh, err := w.Reset(ctx)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if fresh.ID == sess.ID {
		t.Fatalf("expected a new session id after reset")
	}
	tail, err := w.Tail(ctx)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(tail) != 0 {
		t.Fatalf("expected empty tail after reset, got %d turns", len(tail))
	}
}
