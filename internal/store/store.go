// Package store implements the durable, transactional state backing every
// other Seelenmaschine component: sessions, turns, summaries, scheduled
// tasks, and the aligned vector/full-text shadow indices.
//
// A single embedded modernc.org/sqlite file holds everything. Vector search
// is brute-force cosine similarity over BLOB-encoded float32 vectors (the
// same fallback the reference sqlite-vec integration documents for builds
// without the CGO vec0 extension); full-text recall uses real SQLite FTS5
// shadow tables kept synchronized by SQL triggers on turns/summaries.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/fluviusmagnus/Seelenmaschine/pkg/apperr"
	"github.com/fluviusmagnus/Seelenmaschine/pkg/models"
	_ "modernc.org/sqlite"
)

const schemaVersion = 1

// VectorKind distinguishes which table a vector/FTS operation targets.
type VectorKind string

const (
	KindTurn    VectorKind = "turn"
	KindSummary VectorKind = "summary"
)

// SearchFilter restricts a vector_search/fts_search call.
type SearchFilter struct {
	ExcludeSessionID int64 // 0 means no exclusion
	SessionID        int64 // 0 means unrestricted
}

// ScoredID is a single vector_search or fts_search hit.
type ScoredID struct {
	ID    int64
	Score float64
}

// Store is the single writer-owned handle onto the embedded database. Each
// mutating operation is one SQL statement that commits on its own (only the
// schema migration uses a *sql.Tx). The pool holds a single connection, so
// reads and writes run one at a time; a mutex also serializes most writers.
type Store struct {
	db        *sql.DB
	dimension int
	mu        sync.Mutex
}

// Open opens or creates the database file at path, applying the schema and
// recording the embedding dimension in Meta. Opening a file that already
// declares a different dimension is a Conflict.
func Open(ctx context.Context, path string, dimension int) (*Store, error) {
	if dimension <= 0 {
		return nil, apperr.New(apperr.KindBadArgument, "store.open", "dimension must be positive")
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "store.open", err)
	}
	db.SetMaxOpenConns(1) // single writer/reader connection, serializable semantics

	s := &Store{db: db, dimension: dimension}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.reconcileDimension(ctx, dimension); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			session_id INTEGER PRIMARY KEY AUTOINCREMENT,
			start_ts   INTEGER NOT NULL,
			end_ts     INTEGER,
			status     TEXT NOT NULL CHECK (status IN ('active','archived'))
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active ON sessions(status) WHERE status = 'active'`,

		`CREATE TABLE IF NOT EXISTS turns (
			turn_id    INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
			ts         INTEGER NOT NULL,
			role       TEXT NOT NULL CHECK (role IN ('user','assistant')),
			text       TEXT NOT NULL CHECK (length(text) > 0)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, turn_id)`,

		`CREATE TABLE IF NOT EXISTS summaries (
			summary_id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
			text       TEXT NOT NULL,
			first_ts   INTEGER NOT NULL,
			last_ts    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_summaries_session ON summaries(session_id, last_ts)`,

		`CREATE TABLE IF NOT EXISTS turn_vectors (
			turn_id   INTEGER PRIMARY KEY REFERENCES turns(turn_id) ON DELETE CASCADE,
			embedding BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS summary_vectors (
			summary_id INTEGER PRIMARY KEY REFERENCES summaries(summary_id) ON DELETE CASCADE,
			embedding  BLOB NOT NULL
		)`,

		`CREATE VIRTUAL TABLE IF NOT EXISTS turns_fts USING fts5(text, content='turns', content_rowid='turn_id')`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS summaries_fts USING fts5(text, content='summaries', content_rowid='summary_id')`,

		`CREATE TRIGGER IF NOT EXISTS trg_turns_ai AFTER INSERT ON turns BEGIN
			INSERT INTO turns_fts(rowid, text) VALUES (new.turn_id, new.text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS trg_turns_ad AFTER DELETE ON turns BEGIN
			INSERT INTO turns_fts(turns_fts, rowid, text) VALUES ('delete', old.turn_id, old.text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS trg_summaries_ai AFTER INSERT ON summaries BEGIN
			INSERT INTO summaries_fts(rowid, text) VALUES (new.summary_id, new.text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS trg_summaries_ad AFTER DELETE ON summaries BEGIN
			INSERT INTO summaries_fts(summaries_fts, rowid, text) VALUES ('delete', old.summary_id, old.text);
		END`,

		`CREATE TABLE IF NOT EXISTS tasks (
			task_id      TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			trigger_type TEXT NOT NULL CHECK (trigger_type IN ('once','interval')),
			trigger_json TEXT NOT NULL,
			message      TEXT NOT NULL,
			created_at   INTEGER NOT NULL,
			next_run_at  INTEGER NOT NULL,
			last_run_at  INTEGER,
			status       TEXT NOT NULL CHECK (status IN ('active','paused','completed'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(status, next_run_at)`,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindStoreUnavailable, "store.migrate", err)
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return apperr.Wrap(apperr.KindStoreUnavailable, "store.migrate", fmt.Errorf("%s: %w", stmt, err))
		}
	}

	var versionStr string
	err = tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&versionStr)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES ('schema_version', ?)`, fmt.Sprint(schemaVersion)); err != nil {
			return apperr.Wrap(apperr.KindStoreUnavailable, "store.migrate", err)
		}
	case err != nil:
		return apperr.Wrap(apperr.KindStoreUnavailable, "store.migrate", err)
	default:
		if versionStr != fmt.Sprint(schemaVersion) {
			return apperr.New(apperr.KindConflict, "store.migrate", "unrecognized schema_version "+versionStr)
		}
	}

	return tx.Commit()
}

func (s *Store) reconcileDimension(ctx context.Context, dimension int) error {
	var existing string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'dimension'`).Scan(&existing)
	if err == sql.ErrNoRows {
		_, err := s.db.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES ('dimension', ?)`, fmt.Sprint(dimension))
		if err != nil {
			return apperr.Wrap(apperr.KindStoreUnavailable, "store.open", err)
		}
		s.dimension = dimension
		return nil
	}
	if err != nil {
		return apperr.Wrap(apperr.KindStoreUnavailable, "store.open", err)
	}
	if existing != fmt.Sprint(dimension) {
		return apperr.New(apperr.KindConflict, "store.open",
			fmt.Sprintf("store declares dimension %s, requested %d", existing, dimension))
	}
	s.dimension = dimension
	return nil
}

// --- Sessions -----------------------------------------------------------

// ActiveSession returns the current active session, or nil if none exists.
func (s *Store) ActiveSession(ctx context.Context) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT session_id, start_ts, end_ts, status FROM sessions WHERE status = 'active'`)
	return scanSession(row)
}

// CreateSession creates a new active session. Caller must ensure no other
// session is active; CreateSession does not archive a prior active session
// itself.
func (s *Store) CreateSession(ctx context.Context, startTS int64) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `INSERT INTO sessions(start_ts, status) VALUES (?, 'active')`, startTS)
	if err != nil {
		if isUniqueConstraint(err) {
			return nil, apperr.Wrap(apperr.KindConflict, "store.create_session", err)
		}
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "store.create_session", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "store.create_session", err)
	}
	return &models.Session{ID: id, StartTS: startTS, Status: models.SessionActive}, nil
}

// ArchiveSession transitions an active session to archived.
func (s *Store) ArchiveSession(ctx context.Context, sessionID, endTS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET status = 'archived', end_ts = ? WHERE session_id = ? AND status = 'active'`, endTS, sessionID)
	if err != nil {
		return apperr.Wrap(apperr.KindStoreUnavailable, "store.archive_session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "store.archive_session", "no active session with that id")
	}
	return nil
}

// DeleteSession hard-deletes a session and cascades to its turns, summaries,
// and both sidecar indices (foreign keys + FTS triggers handle the cascade).
func (s *Store) DeleteSession(ctx context.Context, sessionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return apperr.Wrap(apperr.KindStoreUnavailable, "store.delete_session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "store.delete_session", "no session with that id")
	}
	return nil
}

func scanSession(row *sql.Row) (*models.Session, error) {
	var sess models.Session
	var status string
	var endTS sql.NullInt64
	if err := row.Scan(&sess.ID, &sess.StartTS, &endTS, &status); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "store.scan_session", err)
	}
	sess.Status = models.SessionStatus(status)
	if endTS.Valid {
		sess.EndTS = &endTS.Int64
	}
	return &sess, nil
}

// --- Turns ----------------------------------------------------------------

// AppendTurn inserts a Turn and returns its monotonically increasing id.
func (s *Store) AppendTurn(ctx context.Context, sessionID int64, role models.Role, text string, ts int64) (int64, error) {
	if text == "" {
		return 0, apperr.New(apperr.KindBadArgument, "store.append_turn", "text must be non-empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `INSERT INTO turns(session_id, ts, role, text) VALUES (?, ?, ?, ?)`, sessionID, ts, string(role), text)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStoreUnavailable, "store.append_turn", err)
	}
	return res.LastInsertId()
}

// RecentTurns returns the last n turns of a session in ascending ts order.
func (s *Store) RecentTurns(ctx context.Context, sessionID int64, n int) ([]models.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT turn_id, session_id, ts, role, text FROM (
			SELECT turn_id, session_id, ts, role, text FROM turns
			WHERE session_id = ? ORDER BY turn_id DESC LIMIT ?
		) ORDER BY turn_id ASC`, sessionID, n)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "store.recent_turns", err)
	}
	defer rows.Close()

	var out []models.Turn
	for rows.Next() {
		var t models.Turn
		var role string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.TS, &role, &t.Text); err != nil {
			return nil, apperr.Wrap(apperr.KindStoreUnavailable, "store.recent_turns", err)
		}
		t.Role = models.Role(role)
		out = append(out, t)
	}
	return out, rows.Err()
}

// OldestTurns returns the oldest `count` turns of a session in turn_id
// order, whether or not they have already been folded into a summary.
func (s *Store) OldestTurns(ctx context.Context, sessionID int64, count int) ([]models.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT turn_id, session_id, ts, role, text FROM turns
		WHERE session_id = ? ORDER BY turn_id ASC LIMIT ?`, sessionID, count)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "store.oldest_turns", err)
	}
	defer rows.Close()

	var out []models.Turn
	for rows.Next() {
		var t models.Turn
		var role string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.TS, &role, &t.Text); err != nil {
			return nil, apperr.Wrap(apperr.KindStoreUnavailable, "store.oldest_turns", err)
		}
		t.Role = models.Role(role)
		out = append(out, t)
	}
	return out, rows.Err()
}

// TurnsAfter returns every turn in a session with ts > afterTS, ascending by
// turn_id. Used by the Context Window to find the turns not yet folded into
// any summary (the boundary is the latest summary's last_ts).
func (s *Store) TurnsAfter(ctx context.Context, sessionID int64, afterTS int64) ([]models.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT turn_id, session_id, ts, role, text FROM turns
		WHERE session_id = ? AND ts > ? ORDER BY turn_id ASC`, sessionID, afterTS)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "store.turns_after", err)
	}
	defer rows.Close()

	var out []models.Turn
	for rows.Next() {
		var t models.Turn
		var role string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.TS, &role, &t.Text); err != nil {
			return nil, apperr.Wrap(apperr.KindStoreUnavailable, "store.turns_after", err)
		}
		t.Role = models.Role(role)
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTurnByID loads a single turn by id, used by the retriever to resolve
// vector/FTS search hits into full records.
func (s *Store) GetTurnByID(ctx context.Context, turnID int64) (*models.Turn, error) {
	var t models.Turn
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT turn_id, session_id, ts, role, text FROM turns WHERE turn_id = ?`, turnID).
		Scan(&t.ID, &t.SessionID, &t.TS, &role, &t.Text)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.KindNotFound, "store.get_turn_by_id", "turn not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "store.get_turn_by_id", err)
	}
	t.Role = models.Role(role)
	return &t, nil
}

// CountTurns returns the number of turns currently stored for a session.
func (s *Store) CountTurns(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStoreUnavailable, "store.count_turns", err)
	}
	return n, nil
}

// --- Summaries --------------------------------------------------------------

// CreateSummary inserts a new Summary (never mutated in place) and returns its id.
func (s *Store) CreateSummary(ctx context.Context, sessionID int64, text string, firstTS, lastTS int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `INSERT INTO summaries(session_id, text, first_ts, last_ts) VALUES (?, ?, ?, ?)`,
		sessionID, text, firstTS, lastTS)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStoreUnavailable, "store.create_summary", err)
	}
	return res.LastInsertId()
}

// RecentSummaries returns the `limit` most recent summaries for a session,
// ordered by last_ts ascending (oldest of the recent set first).
func (s *Store) RecentSummaries(ctx context.Context, sessionID int64, limit int) ([]models.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT summary_id, session_id, text, first_ts, last_ts FROM (
			SELECT summary_id, session_id, text, first_ts, last_ts FROM summaries
			WHERE session_id = ? ORDER BY last_ts DESC LIMIT ?
		) ORDER BY last_ts ASC`, sessionID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "store.recent_summaries", err)
	}
	defer rows.Close()

	var out []models.Summary
	for rows.Next() {
		var sm models.Summary
		if err := rows.Scan(&sm.ID, &sm.SessionID, &sm.Text, &sm.FirstTS, &sm.LastTS); err != nil {
			return nil, apperr.Wrap(apperr.KindStoreUnavailable, "store.recent_summaries", err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// GetSummaryByID loads a single summary by id, used by the retriever to
// resolve vector/FTS search hits into full records.
func (s *Store) GetSummaryByID(ctx context.Context, summaryID int64) (*models.Summary, error) {
	var sm models.Summary
	err := s.db.QueryRowContext(ctx, `SELECT summary_id, session_id, text, first_ts, last_ts FROM summaries WHERE summary_id = ?`, summaryID).
		Scan(&sm.ID, &sm.SessionID, &sm.Text, &sm.FirstTS, &sm.LastTS)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.KindNotFound, "store.get_summary_by_id", "summary not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "store.get_summary_by_id", err)
	}
	return &sm, nil
}

// --- Vectors ----------------------------------------------------------------

// AttachTurnVector stores the embedding for a turn, dimension-checked.
func (s *Store) AttachTurnVector(ctx context.Context, turnID int64, vec []float32) error {
	if len(vec) != s.dimension {
		return apperr.New(apperr.KindBadArgument, "store.attach_turn_vector",
			fmt.Sprintf("vector dimension %d does not match store dimension %d", len(vec), s.dimension))
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO turn_vectors(turn_id, embedding) VALUES (?, ?)`, turnID, encodeVector(vec))
	if err != nil {
		return apperr.Wrap(apperr.KindStoreUnavailable, "store.attach_turn_vector", err)
	}
	return nil
}

// AttachSummaryVector stores the embedding for a summary, dimension-checked.
func (s *Store) AttachSummaryVector(ctx context.Context, summaryID int64, vec []float32) error {
	if len(vec) != s.dimension {
		return apperr.New(apperr.KindBadArgument, "store.attach_summary_vector",
			fmt.Sprintf("vector dimension %d does not match store dimension %d", len(vec), s.dimension))
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO summary_vectors(summary_id, embedding) VALUES (?, ?)`, summaryID, encodeVector(vec))
	if err != nil {
		return apperr.Wrap(apperr.KindStoreUnavailable, "store.attach_summary_vector", err)
	}
	return nil
}

// VectorSearch finds the top-k nearest vectors of the given kind by cosine
// similarity, applying the session filter. Rows without a vector (an
// embedder failure left one missing) are silently skipped.
func (s *Store) VectorSearch(ctx context.Context, kind VectorKind, query []float32, k int, filter SearchFilter) ([]ScoredID, error) {
	if len(query) != s.dimension {
		return nil, apperr.New(apperr.KindBadArgument, "store.vector_search", "query vector dimension mismatch")
	}

	var rows *sql.Rows
	var err error
	switch kind {
	case KindTurn:
		q := `SELECT t.turn_id, v.embedding FROM turns t JOIN turn_vectors v ON v.turn_id = t.turn_id WHERE 1=1`
		args := []any{}
		if filter.ExcludeSessionID != 0 {
			q += ` AND t.session_id != ?`
			args = append(args, filter.ExcludeSessionID)
		}
		if filter.SessionID != 0 {
			q += ` AND t.session_id = ?`
			args = append(args, filter.SessionID)
		}
		rows, err = s.db.QueryContext(ctx, q, args...)
	case KindSummary:
		q := `SELECT s.summary_id, v.embedding FROM summaries s JOIN summary_vectors v ON v.summary_id = s.summary_id WHERE 1=1`
		args := []any{}
		if filter.ExcludeSessionID != 0 {
			q += ` AND s.session_id != ?`
			args = append(args, filter.ExcludeSessionID)
		}
		if filter.SessionID != 0 {
			q += ` AND s.session_id = ?`
			args = append(args, filter.SessionID)
		}
		rows, err = s.db.QueryContext(ctx, q, args...)
	default:
		return nil, apperr.New(apperr.KindBadArgument, "store.vector_search", "unknown kind")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "store.vector_search", err)
	}
	defer rows.Close()

	var scored []ScoredID
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, apperr.Wrap(apperr.KindStoreUnavailable, "store.vector_search", err)
		}
		vec := decodeVector(blob)
		if vec == nil {
			continue
		}
		scored = append(scored, ScoredID{ID: id, Score: cosineSimilarity(query, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "store.vector_search", err)
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// --- Full-text search -------------------------------------------------------

// FTSSearch runs a boolean FTS5 query over turns or summaries, returning ids
// ranked by relevance (bm25, lower is better so we negate for ScoredID.Score
// consistency with vector search where higher is better).
func (s *Store) FTSSearch(ctx context.Context, kind VectorKind, query string, filter SearchFilter, k int) ([]ScoredID, error) {
	ftsQuery, err := toFTS5Query(query)
	if err != nil {
		return nil, err
	}

	var table, joinTable, idCol string
	switch kind {
	case KindTurn:
		table, joinTable, idCol = "turns_fts", "turns", "turn_id"
	case KindSummary:
		table, joinTable, idCol = "summaries_fts", "summaries", "summary_id"
	default:
		return nil, apperr.New(apperr.KindBadArgument, "store.fts_search", "unknown kind")
	}

	q := fmt.Sprintf(`
		SELECT j.%[1]s, bm25(f.%[2]s) AS rank
		FROM %[2]s f JOIN %[3]s j ON j.%[1]s = f.rowid
		WHERE f.%[2]s MATCH ?`, idCol, table, joinTable)
	args := []any{ftsQuery}
	if filter.ExcludeSessionID != 0 {
		q += ` AND j.session_id != ?`
		args = append(args, filter.ExcludeSessionID)
	}
	if filter.SessionID != 0 {
		q += ` AND j.session_id = ?`
		args = append(args, filter.SessionID)
	}
	q += ` ORDER BY rank LIMIT ?`
	args = append(args, k)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "store.fts_search", err)
	}
	defer rows.Close()

	var out []ScoredID
	for rows.Next() {
		var id int64
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, apperr.Wrap(apperr.KindStoreUnavailable, "store.fts_search", err)
		}
		out = append(out, ScoredID{ID: id, Score: -rank})
	}
	return out, rows.Err()
}

// toFTS5Query validates the boolean query syntax before handing it to FTS5:
// balanced quotes and parentheses, no operator at either edge.
func toFTS5Query(query string) (string, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return "", apperr.New(apperr.KindBadQuery, "store.fts_search", "empty query")
	}
	if strings.Count(q, `"`)%2 != 0 {
		return "", apperr.New(apperr.KindBadQuery, "store.fts_search", "unbalanced quotes")
	}
	depth := 0
	for _, r := range q {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth < 0 {
			return "", apperr.New(apperr.KindBadQuery, "store.fts_search", "unbalanced parentheses")
		}
	}
	if depth != 0 {
		return "", apperr.New(apperr.KindBadQuery, "store.fts_search", "unbalanced parentheses")
	}

	fields := strings.Fields(q)
	if len(fields) == 0 {
		return "", apperr.New(apperr.KindBadQuery, "store.fts_search", "empty query")
	}
	first := strings.Trim(fields[0], "()")
	last := strings.Trim(fields[len(fields)-1], "()")
	// FTS5's NOT is binary, so any operator at the start is malformed.
	if isBooleanOperator(first) {
		return "", apperr.New(apperr.KindBadQuery, "store.fts_search", "operator at start")
	}
	if isBooleanOperator(last) {
		return "", apperr.New(apperr.KindBadQuery, "store.fts_search", "operator at end")
	}

	return q, nil
}

func isBooleanOperator(tok string) bool {
	switch strings.ToUpper(tok) {
	case "AND", "OR", "NOT":
		return true
	default:
		return false
	}
}

// --- Scheduled tasks ---------------------------------------------------------

// UpsertTask inserts or replaces a scheduled task.
func (s *Store) UpsertTask(ctx context.Context, task *models.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	triggerJSON, err := encodeTrigger(task.Trigger)
	if err != nil {
		return apperr.Wrap(apperr.KindBadArgument, "store.upsert_task", err)
	}
	var lastRun any
	if task.LastRunAt != nil {
		lastRun = *task.LastRunAt
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks(task_id, name, trigger_type, trigger_json, message, created_at, next_run_at, last_run_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			name=excluded.name, trigger_type=excluded.trigger_type, trigger_json=excluded.trigger_json,
			message=excluded.message, next_run_at=excluded.next_run_at, last_run_at=excluded.last_run_at,
			status=excluded.status`,
		task.ID, task.Name, string(task.TriggerType), triggerJSON, task.Message,
		task.CreatedAt, task.NextRunAt, lastRun, string(task.Status))
	if err != nil {
		return apperr.Wrap(apperr.KindStoreUnavailable, "store.upsert_task", err)
	}
	return nil
}

// TasksDue returns active tasks whose next_run_at <= now, ascending by next_run_at.
func (s *Store) TasksDue(ctx context.Context, now int64) ([]*models.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, name, trigger_type, trigger_json, message, created_at, next_run_at, last_run_at, status
		FROM tasks WHERE status = 'active' AND next_run_at <= ? ORDER BY next_run_at ASC`, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "store.tasks_due", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// GetTask fetches a single task by id.
func (s *Store) GetTask(ctx context.Context, taskID string) (*models.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, name, trigger_type, trigger_json, message, created_at, next_run_at, last_run_at, status
		FROM tasks WHERE task_id = ?`, taskID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "store.get_task", err)
	}
	defer rows.Close()
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, apperr.New(apperr.KindNotFound, "store.get_task", "no such task")
	}
	return tasks[0], nil
}

// ListTasks returns every task regardless of status.
func (s *Store) ListTasks(ctx context.Context) ([]*models.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, name, trigger_type, trigger_json, message, created_at, next_run_at, last_run_at, status
		FROM tasks ORDER BY created_at ASC`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "store.list_tasks", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// SetTaskStatus transitions a task's status (pause/resume/cancel).
func (s *Store) SetTaskStatus(ctx context.Context, taskID string, status models.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE task_id = ?`, string(status), taskID)
	if err != nil {
		return apperr.Wrap(apperr.KindStoreUnavailable, "store.set_task_status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "store.set_task_status", "no such task")
	}
	return nil
}

// SetTaskNextRun atomically advances next_run_at/last_run_at and, for a
// `once` task, marks it completed in the same statement, the fix for the
// historical "once tasks refire" bug.
func (s *Store) SetTaskNextRun(ctx context.Context, taskID string, next, last int64, completeIfOnce bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if completeIfOnce {
		_, err = s.db.ExecContext(ctx, `
			UPDATE tasks SET next_run_at = ?, last_run_at = ?, status = 'completed'
			WHERE task_id = ? AND trigger_type = 'once'`, next, last, taskID)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE tasks SET next_run_at = ?, last_run_at = ?
			WHERE task_id = ?`, next, last, taskID)
	}
	if err != nil {
		return apperr.Wrap(apperr.KindStoreUnavailable, "store.set_task_next_run", err)
	}
	return nil
}

func scanTasks(rows *sql.Rows) ([]*models.ScheduledTask, error) {
	var out []*models.ScheduledTask
	for rows.Next() {
		var t models.ScheduledTask
		var triggerType, status, triggerJSON string
		var lastRun sql.NullInt64
		if err := rows.Scan(&t.ID, &t.Name, &triggerType, &triggerJSON, &t.Message, &t.CreatedAt, &t.NextRunAt, &lastRun, &status); err != nil {
			return nil, apperr.Wrap(apperr.KindStoreUnavailable, "store.scan_tasks", err)
		}
		t.TriggerType = models.TaskTriggerType(triggerType)
		t.Status = models.TaskStatus(status)
		if lastRun.Valid {
			t.LastRunAt = &lastRun.Int64
		}
		trig, err := decodeTrigger(triggerJSON)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStoreUnavailable, "store.scan_tasks", err)
		}
		t.Trigger = trig
		out = append(out, &t)
	}
	return out, rows.Err()
}

// --- encoding helpers ---------------------------------------------------------

func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func isUniqueConstraint(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}
