package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/session"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/repository"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

const sessionColumns = `session_id, category, current_node_id, steps, started_at, updated_at, completed_at,
	abandoned, final_conclusion, tech_identifier, client_site, ip_hash, user_agent, version`

// SessionRepository implements repository.SessionRepository on SQLite. Steps
// are stored as a JSON array in a single column.
type SessionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSessionRepository creates a session repository over db.
func NewSessionRepository(db *DB, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{db: db, logger: logger}
}

var _ repository.SessionRepository = (*SessionRepository)(nil)

func (r *SessionRepository) Create(ctx context.Context, s *session.Session) error {
	steps, err := json.Marshal(s.Steps)
	if err != nil {
		return pkgerrors.NewInternalError("encode session steps").WithCause(err)
	}

	_, err = r.db.sql.ExecContext(ctx, `INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Category, s.CurrentNodeID, string(steps), formatTime(s.StartedAt), formatTime(s.UpdatedAt),
		formatNullTime(s.CompletedAt), boolToInt(s.Abandoned), nullString(s.FinalConclusion),
		nullString(s.TechIdentifier), nullString(s.ClientSite), nullString(s.IPHash), nullString(s.UserAgent),
		s.Version)
	if isUniqueViolation(err) {
		return pkgerrors.NewConflictError("session already exists")
	}
	if err != nil {
		return pkgerrors.NewDatabaseError("insert session", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*session.Session, error) {
	row := r.db.sql.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.NewNotFoundError("session").WithDetails(map[string]interface{}{"session_id": id})
	}
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("get session", err)
	}
	return s, nil
}

func (r *SessionRepository) Update(ctx context.Context, s *session.Session) error {
	steps, err := json.Marshal(s.Steps)
	if err != nil {
		return pkgerrors.NewInternalError("encode session steps").WithCause(err)
	}

	res, err := r.db.sql.ExecContext(ctx, `
		UPDATE sessions SET category = ?, current_node_id = ?, steps = ?, updated_at = ?, completed_at = ?,
			abandoned = ?, final_conclusion = ?, version = version + 1
		WHERE session_id = ? AND version = ?`,
		s.Category, s.CurrentNodeID, string(steps), formatTime(s.UpdatedAt), formatNullTime(s.CompletedAt),
		boolToInt(s.Abandoned), nullString(s.FinalConclusion), s.ID, s.Version)
	if err != nil {
		return pkgerrors.NewDatabaseError("update session", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return pkgerrors.NewDatabaseError("rows affected", err)
	}
	if n == 0 {
		if _, getErr := r.Get(ctx, s.ID); getErr != nil {
			return getErr
		}
		return pkgerrors.NewConflictError("session was modified concurrently").WithCode("STALE_SESSION")
	}

	s.Version++
	return nil
}

func (r *SessionRepository) ListIdleActive(ctx context.Context, cutoff time.Time, limit int) ([]*session.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.sql.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE completed_at IS NULL AND abandoned = 0 AND updated_at < ?
		ORDER BY updated_at LIMIT ?`, formatTime(cutoff), limit)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("list idle sessions", err)
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, pkgerrors.NewDatabaseError("scan session", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewDatabaseError("list idle sessions", err)
	}
	return out, nil
}

func (r *SessionRepository) Counts(ctx context.Context) (repository.SessionCounts, error) {
	var c repository.SessionCounts
	err := r.db.sql.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN completed_at IS NULL AND abandoned = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN completed_at IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN completed_at IS NULL AND abandoned = 1 THEN 1 ELSE 0 END), 0)
		FROM sessions`).Scan(&c.Total, &c.Active, &c.Completed, &c.Abandoned)
	if err != nil {
		return c, pkgerrors.NewDatabaseError("count sessions", err)
	}
	return c, nil
}

// whereSession renders filter as a WHERE clause and its arguments.
func whereSession(f repository.SessionFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	switch f.Status {
	case session.StatusActive:
		conds = append(conds, "completed_at IS NULL AND abandoned = 0")
	case session.StatusCompleted:
		conds = append(conds, "completed_at IS NOT NULL")
	case session.StatusAbandoned:
		conds = append(conds, "completed_at IS NULL AND abandoned = 1")
	}
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if f.Search != "" {
		pattern := "%" + likeEscaper.Replace(f.Search) + "%"
		conds = append(conds, `(tech_identifier LIKE ? ESCAPE '\' OR client_site LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if f.StartedAfter != nil {
		conds = append(conds, "started_at >= ?")
		args = append(args, formatTime(*f.StartedAfter))
	}
	if f.StartedBefore != nil {
		conds = append(conds, "started_at <= ?")
		args = append(args, formatTime(*f.StartedBefore))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func (r *SessionRepository) List(ctx context.Context, filter repository.SessionFilter, page repository.Page) ([]*session.Session, int, error) {
	where, args := whereSession(filter)

	var total int
	if err := r.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`+where, args...).Scan(&total); err != nil {
		return nil, 0, pkgerrors.NewDatabaseError("count sessions", err)
	}

	rows, err := r.db.sql.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions`+where+`
		ORDER BY started_at DESC, session_id LIMIT ? OFFSET ?`,
		append(args, page.Size, page.Offset())...)
	if err != nil {
		return nil, 0, pkgerrors.NewDatabaseError("list sessions", err)
	}
	defer rows.Close()

	out := []*session.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, pkgerrors.NewDatabaseError("scan session", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, pkgerrors.NewDatabaseError("list sessions", err)
	}
	return out, total, nil
}

func (r *SessionRepository) Delete(ctx context.Context, filter repository.SessionFilter) (int, error) {
	where, args := whereSession(filter)
	res, err := r.db.sql.ExecContext(ctx, `DELETE FROM sessions`+where, args...)
	if err != nil {
		return 0, pkgerrors.NewDatabaseError("delete sessions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, pkgerrors.NewDatabaseError("rows affected", err)
	}
	return int(n), nil
}

func scanSession(s rowScanner) (*session.Session, error) {
	var (
		out                               session.Session
		category, completedAt, conclusion sql.NullString
		tech, site, ipHash, userAgent     sql.NullString
		steps, startedAt, updatedAt       string
		abandoned                         int
	)
	if err := s.Scan(&out.ID, &category, &out.CurrentNodeID, &steps, &startedAt, &updatedAt, &completedAt,
		&abandoned, &conclusion, &tech, &site, &ipHash, &userAgent, &out.Version); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(steps), &out.Steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	if out.Steps == nil {
		out.Steps = []session.Step{}
	}

	var err error
	if out.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if out.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		out.CompletedAt = &t
	}

	out.Category = category.String
	out.Abandoned = abandoned != 0
	out.FinalConclusion = stringPtr(conclusion)
	out.TechIdentifier = stringPtr(tech)
	out.ClientSite = stringPtr(site)
	out.IPHash = stringPtr(ipHash)
	out.UserAgent = stringPtr(userAgent)
	return &out, nil
}
