package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/okian/etude/internal/domain/model"
	"github.com/okian/etude/pkg/logger"
	"github.com/okian/etude/pkg/metrics"
)

const (
	defaultBusyTimeout = 5 * time.Second
	maxListLimit       = 500
)

// SQLiteStore implements Store on a single SQLite database.
type SQLiteStore struct {
	db          *sql.DB
	busyTimeout time.Duration
	logger      logger.Logger
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies
// migrations. ":memory:" gives a private in-process database.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{
		busyTimeout: defaultBusyTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("repository")
	}

	db, err := sql.Open("sqlite", s.dsn(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	// One connection: SQLite serializes writers anyway, and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.db = db
	s.logger.Info(ctx, "database ready", logger.String("path", path))
	return s, nil
}

func (s *SQLiteStore) dsn(path string) string {
	pragmas := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", s.busyTimeout.Milliseconds()),
		"_pragma=foreign_keys(1)",
	}
	if path == ":memory:" || path == "" {
		return "file::memory:?" + strings.Join(pragmas, "&")
	}
	pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	return "file:" + path + "?" + strings.Join(pragmas, "&")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func observe(op string, start time.Time) {
	metrics.RecordRepositoryQueryLatency(op, float64(time.Since(start).Microseconds())/1000)
}

func unixNano(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }

func checkLimit(limit int) error {
	if limit < 1 || limit > maxListLimit {
		return fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidLimit, limit, maxListLimit)
	}
	return nil
}

// SavePiece implements Store.
func (s *SQLiteStore) SavePiece(ctx context.Context, p model.Piece) error {
	defer observe("save_piece", time.Now())
	blob, err := json.Marshal(p.Score)
	if err != nil {
		return fmt.Errorf("encode score: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pieces (id, title, source_name, engine, note_count, score_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.SourceName, p.Score.SourceEngine, len(p.Score.Notes), blob, unixNano(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert piece %s: %w", p.ID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPiece(row scanner) (model.Piece, error) {
	var (
		p       model.Piece
		blob    []byte
		created int64
	)
	if err := row.Scan(&p.ID, &p.Title, &p.SourceName, &blob, &created); err != nil {
		return model.Piece{}, err
	}
	if err := json.Unmarshal(blob, &p.Score); err != nil {
		return model.Piece{}, fmt.Errorf("%w: piece %s: %w", ErrCorrupt, p.ID, err)
	}
	p.CreatedAt = fromUnixNano(created)
	return p, nil
}

// Piece implements Store.
func (s *SQLiteStore) Piece(ctx context.Context, id string) (model.Piece, error) {
	defer observe("piece", time.Now())
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, source_name, score_json, created_at FROM pieces WHERE id = ?`, id)
	p, err := scanPiece(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Piece{}, fmt.Errorf("%w: piece %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Piece{}, fmt.Errorf("query piece %s: %w", id, err)
	}
	return p, nil
}

// Pieces implements Store.
func (s *SQLiteStore) Pieces(ctx context.Context, limit, offset int) ([]model.Piece, error) {
	defer observe("pieces", time.Now())
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, source_name, score_json, created_at FROM pieces
		ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, limit, max(0, offset))
	if err != nil {
		return nil, fmt.Errorf("query pieces: %w", err)
	}
	defer rows.Close()

	out := []model.Piece{}
	for rows.Next() {
		p, err := scanPiece(rows)
		if err != nil {
			return nil, fmt.Errorf("scan piece: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveSession implements Store.
func (s *SQLiteStore) SaveSession(ctx context.Context, ps model.PracticeSession) error {
	defer observe("save_session", time.Now())
	perf, err := json.Marshal(ps.Performance)
	if err != nil {
		return fmt.Errorf("encode performance: %w", err)
	}
	fb, err := json.Marshal(ps.Feedback)
	if err != nil {
		return fmt.Errorf("encode feedback: %w", err)
	}
	var overall sql.NullInt64
	if ps.Feedback.OverallScore != nil {
		overall = sql.NullInt64{Int64: int64(*ps.Feedback.OverallScore), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, piece_id, user_id, instrument, dynamics_enabled, status,
			overall_score, performance_json, feedback_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ps.ID, ps.PieceID, ps.UserID, string(ps.Instrument), ps.DynamicsEnabled, string(ps.Feedback.Status),
		overall, perf, fb, unixNano(ps.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert session %s: %w", ps.ID, err)
	}
	return nil
}

const sessionColumns = `id, piece_id, user_id, instrument, dynamics_enabled, performance_json, feedback_json, created_at`

func scanSession(row scanner) (model.PracticeSession, error) {
	var (
		ps         model.PracticeSession
		instrument string
		perf, fb   []byte
		created    int64
	)
	if err := row.Scan(&ps.ID, &ps.PieceID, &ps.UserID, &instrument, &ps.DynamicsEnabled, &perf, &fb, &created); err != nil {
		return model.PracticeSession{}, err
	}
	ps.Instrument = model.Instrument(instrument)
	if err := json.Unmarshal(perf, &ps.Performance); err != nil {
		return model.PracticeSession{}, fmt.Errorf("%w: session %s performance: %w", ErrCorrupt, ps.ID, err)
	}
	if err := json.Unmarshal(fb, &ps.Feedback); err != nil {
		return model.PracticeSession{}, fmt.Errorf("%w: session %s feedback: %w", ErrCorrupt, ps.ID, err)
	}
	ps.CreatedAt = fromUnixNano(created)
	return ps, nil
}

// Session implements Store.
func (s *SQLiteStore) Session(ctx context.Context, id string) (model.PracticeSession, error) {
	defer observe("session", time.Now())
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	ps, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PracticeSession{}, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if err != nil {
		return model.PracticeSession{}, fmt.Errorf("query session %s: %w", id, err)
	}
	return ps, nil
}

// Sessions implements Store.
func (s *SQLiteStore) Sessions(ctx context.Context, pieceID, userID string, limit int) ([]model.PracticeSession, error) {
	defer observe("sessions", time.Now())
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE piece_id = ?`
	args := []any{pieceID}
	if userID != "" {
		q += ` AND user_id = ?`
		args = append(args, userID)
	}
	q += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	out := []model.PracticeSession{}
	for rows.Next() {
		ps, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

// LatestSession implements Store.
func (s *SQLiteStore) LatestSession(ctx context.Context, pieceID, userID string) (model.PracticeSession, error) {
	defer observe("latest_session", time.Now())
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE piece_id = ? AND user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, pieceID, userID)
	ps, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PracticeSession{}, fmt.Errorf("%w: no session for piece %s", ErrNotFound, pieceID)
	}
	if err != nil {
		return model.PracticeSession{}, fmt.Errorf("query latest session: %w", err)
	}
	return ps, nil
}

// CountSessions implements Store.
func (s *SQLiteStore) CountSessions(ctx context.Context, pieceID, userID string) (int, error) {
	defer observe("count_sessions", time.Now())
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE piece_id = ? AND user_id = ?`,
		pieceID, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// SaveJob implements Store.
func (s *SQLiteStore) SaveJob(ctx context.Context, j model.JobInfo) error {
	defer observe("save_job", time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, piece_id, user_id, status, session_id, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			session_id = excluded.session_id,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		j.ID, j.PieceID, j.UserID, string(j.Status), j.SessionID, j.Error, unixNano(j.CreatedAt), unixNano(j.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save job %s: %w", j.ID, err)
	}
	return nil
}

// Job implements Store.
func (s *SQLiteStore) Job(ctx context.Context, id string) (model.JobInfo, error) {
	defer observe("job", time.Now())
	var (
		j                model.JobInfo
		status           string
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, piece_id, user_id, status, session_id, error, created_at, updated_at
		FROM jobs WHERE id = ?`, id).
		Scan(&j.ID, &j.PieceID, &j.UserID, &status, &j.SessionID, &j.Error, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.JobInfo{}, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	if err != nil {
		return model.JobInfo{}, fmt.Errorf("query job %s: %w", id, err)
	}
	j.Status = model.JobStatus(status)
	j.CreatedAt, j.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
	return j, nil
}

// Stats implements Store.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	defer observe("stats", time.Now())
	st := Stats{Jobs: map[model.JobStatus]int{}}
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM pieces),
			(SELECT COUNT(*) FROM sessions),
			(SELECT COUNT(overall_score) FROM sessions),
			(SELECT AVG(overall_score) FROM sessions)`).
		Scan(&st.Pieces, &st.Sessions, &st.ScoredCount, &avg)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	if avg.Valid {
		st.AverageScore = &avg.Float64
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("query job stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, fmt.Errorf("scan job stats: %w", err)
		}
		st.Jobs[model.JobStatus(status)] = n
	}
	return st, rows.Err()
}
