package trace

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const maxCalls = 500

// Store persists call traces to PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to a PostgreSQL trace database at connStr and applies migrations.
func Open(connStr string) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("trace open: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace ping: %w", err)
	}
	if err = migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateCall inserts a call and prunes the oldest beyond maxCalls.
func (s *Store) CreateCall(c Call) error {
	_, err := s.db.Exec(
		`INSERT INTO calls (id, provider, origin, started_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		c.ID, c.Provider, c.Origin, c.StartedAt.UTC(),
	)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`DELETE FROM calls WHERE id NOT IN (SELECT id FROM calls ORDER BY started_at DESC LIMIT $1)`,
		maxCalls,
	)
	return err
}

func (s *Store) EndCall(id, reason string, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE calls SET ended_at = $1, end_reason = $2 WHERE id = $3`,
		at.UTC(), reason, id,
	)
	return err
}

func (s *Store) CreateTurn(t Turn) error {
	_, err := s.db.Exec(
		`INSERT INTO turns (id, call_id, trigger, started_at, status) VALUES ($1, $2, $3, $4, 'running')`,
		t.ID, t.CallID, t.Trigger, t.StartedAt.UTC(),
	)
	return err
}

func (s *Store) FinishTurn(t Turn) error {
	_, err := s.db.Exec(
		`UPDATE turns SET duration_ms = $1, question = $2, answer = $3, status = $4 WHERE id = $5`,
		t.DurationMs, t.Question, t.Answer, t.Status, t.ID,
	)
	return err
}

func (s *Store) CreateStage(st Stage) error {
	_, err := s.db.Exec(
		`INSERT INTO stages (id, turn_id, name, started_at, duration_ms, input, output, status, error_msg)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		st.ID, st.TurnID, st.Name, st.StartedAt.UTC(),
		st.DurationMs, st.Input, st.Output, st.Status, st.Error,
	)
	return err
}

// ListCalls returns calls newest first with turn counts, plus the total.
func (s *Store) ListCalls(limit, offset int) ([]Call, int, error) {
	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM calls`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(`
		SELECT c.id, c.provider, c.origin, c.started_at, c.ended_at, c.end_reason, COUNT(t.id)
		FROM calls c
		LEFT JOIN turns t ON t.call_id = c.id
		GROUP BY c.id
		ORDER BY c.started_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var calls []Call
	for rows.Next() {
		c, err := scanCall(rows, true)
		if err != nil {
			return nil, 0, err
		}
		calls = append(calls, c)
	}
	return calls, total, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCall(row scanner, withCount bool) (Call, error) {
	var c Call
	var endedAt sql.NullTime
	dest := []any{&c.ID, &c.Provider, &c.Origin, &c.StartedAt, &endedAt, &c.EndReason}
	if withCount {
		dest = append(dest, &c.TurnCount)
	}
	if err := row.Scan(dest...); err != nil {
		return c, err
	}
	if endedAt.Valid {
		c.EndedAt = &endedAt.Time
	}
	return c, nil
}

// GetCall returns a call with its turns in order.
func (s *Store) GetCall(id string) (*Call, []Turn, error) {
	c, err := scanCall(s.db.QueryRow(
		`SELECT id, provider, origin, started_at, ended_at, end_reason FROM calls WHERE id = $1`, id,
	), false)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.Query(`
		SELECT t.id, t.call_id, t.trigger, t.started_at, t.duration_ms, t.question, t.answer, t.status,
		       COUNT(st.id)
		FROM turns t
		LEFT JOIN stages st ON st.turn_id = t.id
		WHERE t.call_id = $1
		GROUP BY t.id
		ORDER BY t.started_at ASC
	`, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err = rows.Scan(&t.ID, &t.CallID, &t.Trigger, &t.StartedAt, &t.DurationMs, &t.Question, &t.Answer, &t.Status, &t.StageCount); err != nil {
			return nil, nil, err
		}
		turns = append(turns, t)
	}
	return &c, turns, rows.Err()
}

// GetTurn returns a turn with its stages.
func (s *Store) GetTurn(callID, turnID string) (*Turn, []Stage, error) {
	var t Turn
	err := s.db.QueryRow(
		`SELECT id, call_id, trigger, started_at, duration_ms, question, answer, status FROM turns WHERE id = $1 AND call_id = $2`,
		turnID, callID,
	).Scan(&t.ID, &t.CallID, &t.Trigger, &t.StartedAt, &t.DurationMs, &t.Question, &t.Answer, &t.Status)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.Query(
		`SELECT id, turn_id, name, started_at, duration_ms, input, output, status, error_msg FROM stages WHERE turn_id = $1 ORDER BY started_at ASC`,
		turnID,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var stages []Stage
	for rows.Next() {
		var st Stage
		if err = rows.Scan(&st.ID, &st.TurnID, &st.Name, &st.StartedAt, &st.DurationMs, &st.Input, &st.Output, &st.Status, &st.Error); err != nil {
			return nil, nil, err
		}
		stages = append(stages, st)
	}
	return &t, stages, rows.Err()
}
