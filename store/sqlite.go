// Package store persists session history (configurations, step logs and analyses) in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gridsim/models"
	"gridsim/session"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrNotFound is returned by queries for history that does not exist.
var ErrNotFound = errors.New("not found")

// SessionRecord is the persisted configuration of a session.
type SessionRecord struct {
	ID           string                  `json:"id"`
	Grid         models.GridConfig       `json:"grid"`
	Agent        models.AgentConfig      `json:"agent_config"`
	Experiment   models.ExperimentConfig `json:"experiment_config"`
	ConfiguredAt time.Time               `json:"configured_at"`
	Steps        int                     `json:"steps"`
}

// StepRecord is a persisted step.
type StepRecord struct {
	Generation uint64          `json:"generation"`
	GlobalStep int             `json:"global_step"`
	Log        models.StepLog  `json:"step_log"`
	Position   models.Position `json:"position"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Store is a session.Recorder backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ session.Recorder = (*Store)(nil)

// Open opens or creates the database at path, creating parent directories as needed.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)

	if err := InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (st *Store) Close() error {
	return st.db.Close()
}

// RecordConfig upserts the session's configuration.
func (st *Store) RecordConfig(
	ctx context.Context,
	id string,
	grid models.GridConfig,
	agent models.AgentConfig,
	experiment models.ExperimentConfig,
) error {
	gridJSON, err := json.Marshal(grid)
	if err != nil {
		return fmt.Errorf("failed to encode grid: %w", err)
	}
	agentJSON, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("failed to encode agent: %w", err)
	}
	experimentJSON, err := json.Marshal(experiment)
	if err != nil {
		return fmt.Errorf("failed to encode experiment: %w", err)
	}

	_, err = st.db.ExecContext(ctx, `
		INSERT INTO sessions (id, grid, agent, experiment, configured_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			grid = excluded.grid,
			agent = excluded.agent,
			experiment = excluded.experiment,
			configured_at = excluded.configured_at`,
		id, string(gridJSON), string(agentJSON), string(experimentJSON), now())
	if err != nil {
		return fmt.Errorf("failed to record config of %s: %w", id, err)
	}
	return nil
}

// RecordStep appends a step. Steps of a session whose config was never recorded are rejected,
// as is a second step with the same generation and global step.
func (st *Store) RecordStep(
	ctx context.Context,
	id string,
	generation uint64,
	globalStep int,
	log models.StepLog,
	pos models.Position,
) error {
	_, err := st.db.ExecContext(ctx, `
		INSERT INTO steps
			(session_id, generation, global_step, episode, step, state, action, reward, terminal, pos_row, pos_col, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, int64(generation), globalStep,
		log.Episode, log.Step, log.State, log.Action, log.Reward, log.Terminal,
		pos.Row, pos.Col, now())
	if err != nil {
		return fmt.Errorf("failed to record step %d of %s: %w", globalStep, id, err)
	}
	return nil
}

// RecordAnalysis appends an analysis result.
func (st *Store) RecordAnalysis(ctx context.Context, id string, generation uint64, analysis models.AnalysisResult) error {
	data, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("failed to encode analysis: %w", err)
	}
	_, err = st.db.ExecContext(ctx,
		`INSERT INTO analyses (session_id, generation, result, recorded_at) VALUES (?, ?, ?, ?)`,
		id, int64(generation), string(data), now())
	if err != nil {
		return fmt.Errorf("failed to record analysis of %s: %w", id, err)
	}
	return nil
}

// Sessions lists all recorded sessions, most recently configured first.
func (st *Store) Sessions(ctx context.Context) ([]SessionRecord, error) {
	rows, err := st.db.QueryContext(ctx, `
		SELECT s.id, s.grid, s.agent, s.experiment, s.configured_at,
			(SELECT COUNT(*) FROM steps WHERE session_id = s.id)
		FROM sessions s
		ORDER BY s.configured_at DESC, s.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var (
			rec                                     SessionRecord
			gridJSON, agentJSON, experimentJSON, at string
		)
		if err := rows.Scan(&rec.ID, &gridJSON, &agentJSON, &experimentJSON, &at, &rec.Steps); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if err := json.Unmarshal([]byte(gridJSON), &rec.Grid); err != nil {
			return nil, fmt.Errorf("failed to decode grid of %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(agentJSON), &rec.Agent); err != nil {
			return nil, fmt.Errorf("failed to decode agent of %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(experimentJSON), &rec.Experiment); err != nil {
			return nil, fmt.Errorf("failed to decode experiment of %s: %w", rec.ID, err)
		}
		rec.ConfiguredAt = parseTime(at)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Steps returns the most recent limit steps of the session in ascending order; all of them
// if limit is not positive.
func (st *Store) Steps(ctx context.Context, id string, limit int) ([]StepRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := st.db.QueryContext(ctx, `
		SELECT generation, global_step, episode, step, state, action, reward, terminal, pos_row, pos_col, recorded_at
		FROM (
			SELECT * FROM steps WHERE session_id = ?
			ORDER BY generation DESC, global_step DESC
			LIMIT ?
		)
		ORDER BY generation, global_step`,
		id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps of %s: %w", id, err)
	}
	defer rows.Close()

	var records []StepRecord
	for rows.Next() {
		var (
			rec        StepRecord
			generation int64
			at         string
		)
		err := rows.Scan(
			&generation, &rec.GlobalStep,
			&rec.Log.Episode, &rec.Log.Step, &rec.Log.State, &rec.Log.Action, &rec.Log.Reward, &rec.Log.Terminal,
			&rec.Position.Row, &rec.Position.Col, &at)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		rec.Generation = uint64(generation)
		rec.RecordedAt = parseTime(at)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LatestAnalysis returns the most recent analysis of the session, or ErrNotFound.
func (st *Store) LatestAnalysis(ctx context.Context, id string) (models.AnalysisResult, error) {
	var data string
	err := st.db.QueryRowContext(ctx,
		`SELECT result FROM analyses WHERE session_id = ? ORDER BY id DESC LIMIT 1`,
		id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AnalysisResult{}, fmt.Errorf("analysis of %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("failed to query analysis of %s: %w", id, err)
	}

	var analysis models.AnalysisResult
	if err := json.Unmarshal([]byte(data), &analysis); err != nil {
		return models.AnalysisResult{}, fmt.Errorf("failed to decode analysis of %s: %w", id, err)
	}
	return analysis, nil
}

// Purge deletes all history of the session.
func (st *Store) Purge(ctx context.Context, id string) error {
	res, err := st.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to purge %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// Fixed width, so that timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
