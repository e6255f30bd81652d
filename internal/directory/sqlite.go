package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pytake/backend/internal/apperr"
	"github.com/pytake/backend/internal/types"

	_ "modernc.org/sqlite"
)

const agentsSchema = `
CREATE TABLE IF NOT EXISTS agents (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	email           TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	departments     TEXT NOT NULL DEFAULT '[]',
	skills          TEXT NOT NULL DEFAULT '[]',
	languages       TEXT NOT NULL DEFAULT '[]',
	platforms       TEXT NOT NULL DEFAULT '[]',
	max_concurrent  INTEGER NOT NULL DEFAULT 0,
	current_count   INTEGER NOT NULL DEFAULT 0,
	priority_level  INTEGER NOT NULL DEFAULT 1,
	avg_response_ms INTEGER,
	satisfaction    REAL,
	handled         INTEGER NOT NULL DEFAULT 0,
	updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);
`

const agentColumns = `id, name, email, status, departments, skills, languages, platforms,
	max_concurrent, current_count, priority_level, avg_response_ms, satisfaction, handled, updated_at`

// SQLite is a directory backed by a SQLite database
type SQLite struct {
	conn *sql.DB
	now  func() time.Time
}

// OpenSQLite opens (creating if needed) the directory database at dsn
func OpenSQLite(dsn string) (*SQLite, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open directory db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping directory db: %w", err)
	}
	if _, err := conn.Exec(agentsSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to init directory schema: %w", err)
	}
	return &SQLite{conn: conn, now: time.Now}, nil
}

func (s *SQLite) Close() error {
	return s.conn.Close()
}

func (s *SQLite) ListAgents(ctx context.Context) ([]types.Agent, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY id`)
	if err != nil {
		return nil, apperr.FromContext("list agents", err)
	}
	defer rows.Close()

	var out []types.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.FromContext("list agents", err)
	}
	return out, nil
}

func (s *SQLite) ListAvailableAgents(ctx context.Context) ([]types.Agent, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE status NOT IN (?, ?) ORDER BY id`,
		string(types.AgentOffline), string(types.AgentBreak))
	if err != nil {
		return nil, apperr.FromContext("list available agents", err)
	}
	defer rows.Close()

	var out []types.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.FromContext("list available agents", err)
	}
	return out, nil
}

func (s *SQLite) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("agent %s not found", id)
	}
	if err != nil {
		return nil, apperr.FromContext("get agent", err)
	}
	return &a, nil
}

func (s *SQLite) SetStatus(ctx context.Context, id string, status types.AgentStatus) (types.AgentStatus, error) {
	if !status.Valid() {
		return "", apperr.Validation("invalid agent status %q", status)
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", apperr.FromContext("begin status update", err)
	}
	defer tx.Rollback()

	var prev string
	err = tx.QueryRowContext(ctx, `SELECT status FROM agents WHERE id = ?`, id).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.NotFound("agent %s not found", id)
	}
	if err != nil {
		return "", apperr.FromContext("read agent status", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE agents SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), s.now().UnixMilli(), id); err != nil {
		return "", apperr.FromContext("update agent status", err)
	}
	if err := tx.Commit(); err != nil {
		return "", apperr.FromContext("commit agent status", err)
	}
	return types.AgentStatus(prev), nil
}

// UpsertAgent inserts or replaces an agent. The live load survives a replace.
func (s *SQLite) UpsertAgent(ctx context.Context, a types.Agent) error {
	if a.ID == "" {
		return apperr.Validation("agent id is required")
	}
	departments, _ := json.Marshal(nonNil(a.Departments))
	skills, _ := json.Marshal(nonNil(a.Skills))
	languages, _ := json.Marshal(nonNil(a.Languages))
	platforms, _ := json.Marshal(nonNilPlatforms(a.Platforms))

	var avgMs sql.NullInt64
	if a.AvgResponseTime != nil {
		avgMs = sql.NullInt64{Int64: a.AvgResponseTime.Milliseconds(), Valid: true}
	}
	var satisfaction sql.NullFloat64
	if a.SatisfactionRating != nil {
		satisfaction = sql.NullFloat64{Float64: *a.SatisfactionRating, Valid: true}
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			status = excluded.status,
			departments = excluded.departments,
			skills = excluded.skills,
			languages = excluded.languages,
			platforms = excluded.platforms,
			max_concurrent = excluded.max_concurrent,
			priority_level = excluded.priority_level,
			avg_response_ms = excluded.avg_response_ms,
			satisfaction = excluded.satisfaction,
			handled = excluded.handled,
			updated_at = excluded.updated_at`,
		a.ID, a.Name, a.Email, string(a.Status),
		string(departments), string(skills), string(languages), string(platforms),
		a.MaxConcurrentConversations, a.CurrentConversationCount, a.PriorityLevel,
		avgMs, satisfaction, a.ConversationsHandled, s.now().UnixMilli(),
	)
	if err != nil {
		return apperr.FromContext("upsert agent", err)
	}
	return nil
}

func (s *SQLite) AdjustLoad(ctx context.Context, id string, delta int) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE agents SET current_count = MAX(0, current_count + ?), updated_at = ? WHERE id = ?`,
		delta, s.now().UnixMilli(), id)
	if err != nil {
		return apperr.FromContext("adjust agent load", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("agent %s not found", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (types.Agent, error) {
	var (
		a                                         types.Agent
		status                                    string
		departments, skills, languages, platforms string
		avgMs                                     sql.NullInt64
		satisfaction                              sql.NullFloat64
		updatedAt                                 int64
	)
	err := row.Scan(&a.ID, &a.Name, &a.Email, &status,
		&departments, &skills, &languages, &platforms,
		&a.MaxConcurrentConversations, &a.CurrentConversationCount, &a.PriorityLevel,
		&avgMs, &satisfaction, &a.ConversationsHandled, &updatedAt)
	if err != nil {
		return types.Agent{}, err
	}

	a.Status = types.AgentStatus(status)
	for _, col := range []struct {
		raw string
		dst any
	}{
		{departments, &a.Departments},
		{skills, &a.Skills},
		{languages, &a.Languages},
		{platforms, &a.Platforms},
	} {
		if err := json.Unmarshal([]byte(col.raw), col.dst); err != nil {
			return types.Agent{}, fmt.Errorf("failed to decode agent %s: %w", a.ID, err)
		}
	}
	if avgMs.Valid {
		d := time.Duration(avgMs.Int64) * time.Millisecond
		a.AvgResponseTime = &d
	}
	if satisfaction.Valid {
		v := satisfaction.Float64
		a.SatisfactionRating = &v
	}
	a.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return a, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilPlatforms(s []types.Platform) []types.Platform {
	if s == nil {
		return []types.Platform{}
	}
	return s
}
