// Package contextwindow holds the live turn buffer for the active session
// and decides when to trigger compaction, based on the turn-count
// KEEP_MIN/TRIGGER thresholds.
package contextwindow

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/fluviusmagnus/Seelenmaschine/internal/datetime"
	"github.com/fluviusmagnus/Seelenmaschine/internal/store"
	"github.com/fluviusmagnus/Seelenmaschine/pkg/apperr"
	"github.com/fluviusmagnus/Seelenmaschine/pkg/models"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SummarizeResult is what the Summariser hands back for a condensed
// slice of turns: prose plus a structural patch to the Profile.
type SummarizeResult struct {
	Text  string
	Patch models.JSONPatch
}

// Summarizer condenses turns into a summary and a Profile patch.
type Summarizer interface {
	Summarize(ctx context.Context, turns []models.Turn, lastSummary *models.Summary, profile json.RawMessage) (SummarizeResult, error)
}

// PersonaStore is the subset of persona.Profile the window needs to patch
// after a summarisation run.
type PersonaStore interface {
	Snapshot() json.RawMessage
	ApplyPatch(patch models.JSONPatch) error
}

// Params are the configurable window thresholds.
type Params struct {
	KeepMin            int
	TriggerSummary     int
	RecentSummariesMax int
}

// Window is the tail buffer over the currently active session.
type Window struct {
	store      *store.Store
	summarizer Summarizer
	embedder   Embedder
	persona    PersonaStore
	params     Params
	log        *slog.Logger

	mu      sync.Mutex
	session *models.Session
}

// New constructs a Window with no active session loaded yet; call
// EnsureActiveSession before Append/Tail.
func New(st *store.Store, summarizer Summarizer, embedder Embedder, persona PersonaStore, params Params, log *slog.Logger) *Window {
	if log == nil {
		log = slog.Default()
	}
	return &Window{store: st, summarizer: summarizer, embedder: embedder, persona: persona, params: params, log: log.With("component", "contextwindow")}
}

// EnsureActiveSession returns the active session, creating one if none
// exists yet.
func (w *Window) EnsureActiveSession(ctx context.Context) (*models.Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ensureActiveSessionLocked(ctx)
}

func (w *Window) ensureActiveSessionLocked(ctx context.Context) (*models.Session, error) {
	if w.session != nil {
		return w.session, nil
	}
	sess, err := w.store.ActiveSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		sess, err = w.store.CreateSession(ctx, datetime.Now())
		if err != nil {
			return nil, err
		}
	}
	w.session = sess
	return sess, nil
}

// Append persists a turn and reports whether the active session has crossed
// TRIGGER, i.e. whether the caller should invoke CompactIfNeeded.
func (w *Window) Append(ctx context.Context, role models.Role, text string) (turnID int64, compact bool, err error) {
	w.mu.Lock()
	sess, err := w.ensureActiveSessionLocked(ctx)
	w.mu.Unlock()
	if err != nil {
		return 0, false, err
	}

	turnID, err = w.store.AppendTurn(ctx, sess.ID, role, text, datetime.Now())
	if err != nil {
		return 0, false, err
	}

	if w.embedder != nil {
		if vec, embedErr := w.embedder.Embed(ctx, text); embedErr != nil {
			w.log.Warn("embedding failed, turn stored without vector", "turn_id", turnID, "error", embedErr)
		} else if attachErr := w.store.AttachTurnVector(ctx, turnID, vec); attachErr != nil {
			w.log.Warn("failed to attach turn vector", "turn_id", turnID, "error", attachErr)
		}
	}

	uncondensed, err := w.uncondensedCount(ctx, sess.ID)
	if err != nil {
		return turnID, false, nil // compaction check is best-effort; turn is already safely stored
	}
	return turnID, uncondensed >= w.params.TriggerSummary, nil
}

// boundaryTS returns the last_ts of the most recent summary for a session,
// or 0 if none exists yet. This is the condensation boundary.
func (w *Window) boundaryTS(ctx context.Context, sessionID int64) (int64, error) {
	recent, err := w.store.RecentSummaries(ctx, sessionID, 1)
	if err != nil {
		return 0, err
	}
	if len(recent) == 0 {
		return 0, nil
	}
	return recent[0].LastTS, nil
}

func (w *Window) uncondensedCount(ctx context.Context, sessionID int64) (int, error) {
	boundary, err := w.boundaryTS(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	turns, err := w.store.TurnsAfter(ctx, sessionID, boundary)
	if err != nil {
		return 0, err
	}
	return len(turns), nil
}

// CompactIfNeeded condenses the oldest (uncondensed count - KEEP_MIN) turns
// into a summary when the uncondensed tail has reached TRIGGER. A Summariser
// failure leaves the tail as-is for a retry on the next crossing.
func (w *Window) CompactIfNeeded(ctx context.Context) error {
	w.mu.Lock()
	sess, err := w.ensureActiveSessionLocked(ctx)
	w.mu.Unlock()
	if err != nil {
		return err
	}

	boundary, err := w.boundaryTS(ctx, sess.ID)
	if err != nil {
		return err
	}
	uncondensed, err := w.store.TurnsAfter(ctx, sess.ID, boundary)
	if err != nil {
		return err
	}
	if len(uncondensed) < w.params.TriggerSummary {
		return nil
	}

	condenseN := len(uncondensed) - w.params.KeepMin
	if condenseN <= 0 {
		return nil
	}
	return w.condense(ctx, sess.ID, uncondensed[:condenseN])
}

func (w *Window) condense(ctx context.Context, sessionID int64, turns []models.Turn) error {
	var lastSummary *models.Summary
	recent, err := w.store.RecentSummaries(ctx, sessionID, 1)
	if err == nil && len(recent) > 0 {
		lastSummary = &recent[0]
	}

	result, err := w.summarizer.Summarize(ctx, turns, lastSummary, w.persona.Snapshot())
	if err != nil {
		w.log.Warn("summarisation failed, deferring compaction", "session_id", sessionID, "error", err)
		return apperr.Wrap(apperr.KindUpstreamFailure, "contextwindow.compact", err)
	}

	summaryID, err := w.store.CreateSummary(ctx, sessionID, result.Text, turns[0].TS, turns[len(turns)-1].TS)
	if err != nil {
		return err
	}

	if w.embedder != nil {
		if vec, embedErr := w.embedder.Embed(ctx, result.Text); embedErr != nil {
			w.log.Warn("summary embedding failed", "summary_id", summaryID, "error", embedErr)
		} else if attachErr := w.store.AttachSummaryVector(ctx, summaryID, vec); attachErr != nil {
			w.log.Warn("failed to attach summary vector", "summary_id", summaryID, "error", attachErr)
		}
	}

	if len(result.Patch) > 0 {
		if err := w.persona.ApplyPatch(result.Patch); err != nil {
			w.log.Warn("profile patch discarded", "session_id", sessionID, "error", err)
		}
	}
	return nil
}

// Tail returns the last KEEP_MIN (or fewer, for a young session) turns.
func (w *Window) Tail(ctx context.Context) ([]models.Turn, error) {
	w.mu.Lock()
	sess, err := w.ensureActiveSessionLocked(ctx)
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return w.store.RecentTurns(ctx, sess.ID, w.params.KeepMin)
}

// RecentSummaries returns the RECENT_SUMMARIES_MAX summaries with the
// greatest last_ts, ordered ascending by last_ts.
func (w *Window) RecentSummaries(ctx context.Context) ([]models.Summary, error) {
	w.mu.Lock()
	sess, err := w.ensureActiveSessionLocked(ctx)
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return w.store.RecentSummaries(ctx, sess.ID, w.params.RecentSummariesMax)
}

// ActiveSessionID returns the id of the currently active session.
func (w *Window) ActiveSessionID(ctx context.Context) (int64, error) {
	sess, err := w.EnsureActiveSession(ctx)
	if err != nil {
		return 0, err
	}
	return sess.ID, nil
}

// New finalises the active session: synthesises a summary of all remaining
// uncondensed turns, patches the profile, archives the session, and creates
// a fresh active session (transport command /new).
func (w *Window) New(ctx context.Context) (*models.Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	sess, err := w.ensureActiveSessionLocked(ctx)
	if err != nil {
		return nil, err
	}

	boundary, err := w.boundaryTS(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	remaining, err := w.store.TurnsAfter(ctx, sess.ID, boundary)
	if err != nil {
		return nil, err
	}
	if len(remaining) > 0 {
		if err := w.condense(ctx, sess.ID, remaining); err != nil {
			w.log.Warn("finalize summarisation failed, archiving without final summary", "session_id", sess.ID, "error", err)
		}
	}

	now := datetime.Now()
	if err := w.store.ArchiveSession(ctx, sess.ID, now); err != nil {
		return nil, err
	}
	fresh, err := w.store.CreateSession(ctx, now)
	if err != nil {
		return nil, err
	}
	w.session = fresh
	return fresh, nil
}

// Reset hard-deletes the active session (turns, summaries, vectors, FTS
// rows) and creates a fresh one (transport command /reset).
func (w *Window) Reset(ctx context.Context) (*models.Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	sess, err := w.ensureActiveSessionLocked(ctx)
	if err != nil {
		return nil, err
	}
	if err := w.store.DeleteSession(ctx, sess.ID); err != nil {
		return nil, err
	}
	fresh, err := w.store.CreateSession(ctx, datetime.Now())
	if err != nil {
		return nil, err
	}
	w.session = fresh
	return fresh, nil
}
