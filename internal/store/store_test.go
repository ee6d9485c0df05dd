package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fluviusmagnus/Seelenmaschine/pkg/apperr"
	"github.com/fluviusmagnus/Seelenmaschine/pkg/models"
)

func newTestStore(t *testing.T, dim int) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(context.Background(), path, dim)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func mustSession(t *testing.T, st *Store, startTS int64) *models.Session {
	t.Helper()
	sess, err := st.CreateSession(context.Background(), startTS)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return sess
}

func TestOpenDimensionConflict(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	st, err := Open(ctx, path, 3)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	st.Close()

	_, err = Open(ctx, path, 5)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected Conflict for mismatched dimension, got %v", err)
	}
}

func TestAppendTurnRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, 3)
	sess := mustSession(t, st, 1000)

	id, err := st.AppendTurn(ctx, sess.ID, models.RoleUser, "hello there", 1001)
	if err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	turns, err := st.RecentTurns(ctx, sess.ID, 5)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	got := turns[0]
	if got.ID != id || got.Role != models.RoleUser || got.Text != "hello there" || got.TS != 1001 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestAppendTurnRejectsEmptyText(t *testing.T) {
	st := newTestStore(t, 3)
	sess := mustSession(t, st, 1000)

	_, err := st.AppendTurn(context.Background(), sess.ID, models.RoleUser, "", 1001)
	if !apperr.Is(err, apperr.KindBadArgument) {
		t.Fatalf("expected BadArgument for empty text, got %v", err)
	}
}

func TestSingleActiveSession(t *testing.T) {
	st := newTestStore(t, 3)
	mustSession(t, st, 1000)

	_, err := st.CreateSession(context.Background(), 2000)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected Conflict creating second active session, got %v", err)
	}
}

func TestArchiveThenCreate(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, 3)
	first := mustSession(t, st, 1000)

	if err := st.ArchiveSession(ctx, first.ID, 2000); err != nil {
		t.Fatalf("ArchiveSession: %v", err)
	}
	second := mustSession(t, st, 2000)
	if second.ID == first.ID {
		t.Fatalf("expected new session id after archive")
	}

	active, err := st.ActiveSession(ctx)
	if err != nil {
		t.Fatalf("ActiveSession: %v", err)
	}
	if active == nil || active.ID != second.ID {
		t.Fatalf("expected session %d active, got %+v", second.ID, active)
	}
}

func TestVectorDimensionCheck(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, 3)
	sess := mustSession(t, st, 1000)

	id, err := st.AppendTurn(ctx, sess.ID, models.RoleUser, "vector me", 1001)
	if err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	if err := st.AttachTurnVector(ctx, id, []float32{1, 0}); !apperr.Is(err, apperr.KindBadArgument) {
		t.Fatalf("expected BadArgument for wrong dimension, got %v", err)
	}
	if err := st.AttachTurnVector(ctx, id, []float32{1, 0, 0}); err != nil {
		t.Fatalf("AttachTurnVector: %v", err)
	}
}

func TestVectorSearchRanksAndFilters(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, 3)

	archived := mustSession(t, st, 100)
	aID, _ := st.AppendTurn(ctx, archived.ID, models.RoleUser, "about pianos", 101)
	if err := st.AttachTurnVector(ctx, aID, []float32{1, 0, 0}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := st.ArchiveSession(ctx, archived.ID, 200); err != nil {
		t.Fatalf("archive: %v", err)
	}

	active := mustSession(t, st, 300)
	bID, _ := st.AppendTurn(ctx, active.ID, models.RoleUser, "also pianos", 301)
	if err := st.AttachTurnVector(ctx, bID, []float32{1, 0, 0}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	hits, err := st.VectorSearch(ctx, KindTurn, []float32{1, 0, 0}, 10, SearchFilter{ExcludeSessionID: active.ID})
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != aID {
		t.Fatalf("expected only the archived turn, got %+v", hits)
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, 3)
	sess := mustSession(t, st, 100)

	turnID, _ := st.AppendTurn(ctx, sess.ID, models.RoleUser, "doomed turn", 101)
	if err := st.AttachTurnVector(ctx, turnID, []float32{0, 1, 0}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	sumID, err := st.CreateSummary(ctx, sess.ID, "doomed summary", 100, 101)
	if err != nil {
		t.Fatalf("CreateSummary: %v", err)
	}
	if err := st.AttachSummaryVector(ctx, sumID, []float32{0, 0, 1}); err != nil {
		t.Fatalf("attach summary: %v", err)
	}

	if err := st.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	hits, err := st.VectorSearch(ctx, KindTurn, []float32{0, 1, 0}, 10, SearchFilter{})
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("vector search returned ids from a deleted session: %+v", hits)
	}

	ftsHits, err := st.FTSSearch(ctx, KindTurn, "doomed", SearchFilter{}, 10)
	if err != nil {
		t.Fatalf("FTSSearch: %v", err)
	}
	if len(ftsHits) != 0 {
		t.Fatalf("fts search returned rows from a deleted session: %+v", ftsHits)
	}
}

func TestFTSBooleanQuery(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, 3)
	sess := mustSession(t, st, 100)

	texts := []string{"movie night", "music night", "horror movie"}
	ids := make(map[string]int64, len(texts))
	for i, text := range texts {
		id, err := st.AppendTurn(ctx, sess.ID, models.RoleUser, text, int64(101+i))
		if err != nil {
			t.Fatalf("append %q: %v", text, err)
		}
		ids[text] = id
	}

	hits, err := st.FTSSearch(ctx, KindTurn, `(movie OR music) NOT horror`, SearchFilter{}, 10)
	if err != nil {
		t.Fatalf("FTSSearch: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d: %+v", len(hits), hits)
	}
	for _, h := range hits {
		if h.ID == ids["horror movie"] {
			t.Fatalf("NOT clause failed, horror movie returned")
		}
	}
}

func TestFTSExcludesSession(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, 3)

	for i := 0; i < 2; i++ {
		sess := mustSession(t, st, int64(100+i))
		if _, err := st.AppendTurn(ctx, sess.ID, models.RoleUser, "Anna loves piano", int64(101+i)); err != nil {
			t.Fatalf("append: %v", err)
		}
		if err := st.ArchiveSession(ctx, sess.ID, int64(150+i)); err != nil {
			t.Fatalf("archive: %v", err)
		}
	}
	active := mustSession(t, st, 300)
	if _, err := st.AppendTurn(ctx, active.ID, models.RoleUser, "Anna loves piano", 301); err != nil {
		t.Fatalf("append active: %v", err)
	}

	hits, err := st.FTSSearch(ctx, KindTurn, "Anna AND piano", SearchFilter{ExcludeSessionID: active.ID}, 10)
	if err != nil {
		t.Fatalf("FTSSearch: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected exactly the two archived hits, got %d", len(hits))
	}
}

func TestFTSBadQueries(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, 3)
	mustSession(t, st, 100)

	bad := []string{
		`"unbalanced quote`,
		`(unbalanced paren`,
		`unbalanced) paren`,
		`AND leading`,
		`NOT leading`,
		`trailing OR`,
		`trailing NOT`,
		``,
	}
	for _, q := range bad {
		if _, err := st.FTSSearch(ctx, KindTurn, q, SearchFilter{}, 10); !apperr.Is(err, apperr.KindBadQuery) {
			t.Errorf("query %q: expected BadQuery, got %v", q, err)
		}
	}

	valid := []string{
		`movie`,
		`"movie night"`,
		`movie AND night`,
		`(movie OR music) NOT horror`,
		`mov*`,
	}
	for _, q := range valid {
		if _, err := st.FTSSearch(ctx, KindTurn, q, SearchFilter{}, 10); err != nil {
			t.Errorf("query %q: expected to parse, got %v", q, err)
		}
	}
}

func TestTaskLifecycle(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, 3)

	task := &models.ScheduledTask{
		ID:          "t1",
		Name:        "morning check",
		TriggerType: models.TriggerOnce,
		Trigger:     models.TriggerConfig{Timestamp: 500},
		Message:     "say good morning",
		CreatedAt:   100,
		NextRunAt:   500,
		Status:      models.TaskActive,
	}
	if err := st.UpsertTask(ctx, task); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}

	due, err := st.TasksDue(ctx, 499)
	if err != nil {
		t.Fatalf("TasksDue: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("task should not be due before next_run_at")
	}

	due, err = st.TasksDue(ctx, 500)
	if err != nil {
		t.Fatalf("TasksDue: %v", err)
	}
	if len(due) != 1 || due[0].ID != "t1" {
		t.Fatalf("expected task due at 500, got %+v", due)
	}

	// The once-task completion must ride the same update as the run
	// timestamps; afterwards the task can never be due again.
	if err := st.SetTaskNextRun(ctx, "t1", 500, 501, true); err != nil {
		t.Fatalf("SetTaskNextRun: %v", err)
	}
	due, err = st.TasksDue(ctx, 10_000)
	if err != nil {
		t.Fatalf("TasksDue: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("completed once task refired: %+v", due)
	}

	got, err := st.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != models.TaskCompleted {
		t.Fatalf("expected completed status, got %s", got.Status)
	}
	if got.LastRunAt == nil || *got.LastRunAt != 501 {
		t.Fatalf("expected last_run_at 501, got %+v", got.LastRunAt)
	}
}

func TestTaskStatusTransitions(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, 3)

	task := &models.ScheduledTask{
		ID:          "t2",
		Name:        "recurring",
		TriggerType: models.TriggerInterval,
		Trigger:     models.TriggerConfig{Interval: 60},
		Message:     "check in",
		CreatedAt:   100,
		NextRunAt:   160,
		Status:      models.TaskActive,
	}
	if err := st.UpsertTask(ctx, task); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}

	if err := st.SetTaskStatus(ctx, "t2", models.TaskPaused); err != nil {
		t.Fatalf("pause: %v", err)
	}
	due, err := st.TasksDue(ctx, 1000)
	if err != nil {
		t.Fatalf("TasksDue: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("paused task should not be due")
	}

	if err := st.SetTaskStatus(ctx, "missing", models.TaskActive); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected NotFound for unknown task, got %v", err)
	}
}
