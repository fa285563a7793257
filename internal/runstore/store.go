// Package runstore records experiment runs and their evaluations in a
// SQLite database.
package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	seed        INTEGER NOT NULL,
	lora_rank   INTEGER NOT NULL,
	lora_alpha  REAL NOT NULL,
	digit       INTEGER NOT NULL,
	base_params INTEGER NOT NULL,
	lora_params INTEGER NOT NULL DEFAULT 0,
	config      TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS evaluations (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	phase       TEXT NOT NULL,
	correct     INTEGER NOT NULL,
	total       INTEGER NOT NULL,
	accuracy    REAL NOT NULL,
	wrong_digit INTEGER NOT NULL,
	wrong_count INTEGER NOT NULL,
	recorded_at INTEGER NOT NULL,
	PRIMARY KEY (run_id, phase, wrong_digit)
);
`

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("runstore: run not found")

// Store wraps the database handle.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Run describes one experiment.
type Run struct {
	ID         string
	StartedAt  time.Time
	Seed       uint64
	Rank       int
	Alpha      float32
	Digit      int
	BaseParams int
	LoRAParams int
	Config     string // YAML snapshot of the configuration
}

// Evaluation is one evaluation pass of a run.
type Evaluation struct {
	Phase       string // "baseline", "lora", "lora-disabled"
	Correct     int
	Total       int
	WrongCounts []int // indexed by true digit
	RecordedAt  time.Time
}

// Accuracy returns Correct/Total, or 0 for an empty evaluation.
func (e Evaluation) Accuracy() float64 {
	if e.Total == 0 {
		return 0
	}
	return float64(e.Correct) / float64(e.Total)
}

// Open opens or creates the database at path and applies the schema.
// ":memory:" is accepted for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("runstore: open %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("runstore: enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("runstore: apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun inserts run with a fresh id and start time and returns the id.
func (s *Store) BeginRun(ctx context.Context, run Run) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, seed, lora_rank, lora_alpha, digit, base_params, lora_params, config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, s.now().UnixNano(), int64(run.Seed), run.Rank, run.Alpha, run.Digit, run.BaseParams, run.LoRAParams, run.Config)
	if err != nil {
		return "", fmt.Errorf("runstore: insert run: %w", err)
	}
	return id, nil
}

// SetLoRAParams records the adapter parameter count once adapters exist.
func (s *Store) SetLoRAParams(ctx context.Context, runID string, n int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET lora_params = ? WHERE id = ?`, n, runID)
	if err != nil {
		return fmt.Errorf("runstore: update run: %w", err)
	}
	return requireRow(res, runID)
}

// Run loads a run by id.
func (s *Store) Run(ctx context.Context, runID string) (Run, error) {
	var (
		r       Run
		started int64
		seed    int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, seed, lora_rank, lora_alpha, digit, base_params, lora_params, config
		FROM runs WHERE id = ?`, runID).
		Scan(&r.ID, &started, &seed, &r.Rank, &r.Alpha, &r.Digit, &r.BaseParams, &r.LoRAParams, &r.Config)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return Run{}, fmt.Errorf("runstore: query run: %w", err)
	}
	r.StartedAt = time.Unix(0, started)
	r.Seed = uint64(seed)
	return r, nil
}

// RecordEvaluation stores one row per digit for the given phase in a single
// transaction. Recording the same phase twice replaces the earlier rows.
func (s *Store) RecordEvaluation(ctx context.Context, runID string, eval Evaluation) (err error) {
	if eval.Phase == "" || len(eval.WrongCounts) == 0 {
		return fmt.Errorf("runstore: evaluation needs a phase and per-digit counts")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("runstore: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM evaluations WHERE run_id = ? AND phase = ?`, runID, eval.Phase); err != nil {
		return fmt.Errorf("runstore: clear evaluation: %w", err)
	}

	recorded := s.now().UnixNano()
	for digit, wrong := range eval.WrongCounts {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO evaluations (run_id, phase, correct, total, accuracy, wrong_digit, wrong_count, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, eval.Phase, eval.Correct, eval.Total, eval.Accuracy(), digit, wrong, recorded)
		if err != nil {
			return fmt.Errorf("runstore: insert evaluation: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("runstore: commit: %w", err)
	}
	return nil
}

// Evaluations returns the evaluations of a run ordered by recording time.
func (s *Store) Evaluations(ctx context.Context, runID string) ([]Evaluation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT phase, correct, total, wrong_digit, wrong_count, recorded_at
		FROM evaluations WHERE run_id = ?
		ORDER BY recorded_at, phase, wrong_digit`, runID)
	if err != nil {
		return nil, fmt.Errorf("runstore: query evaluations: %w", err)
	}
	defer rows.Close()

	var (
		evals []Evaluation
		index = map[string]int{}
	)
	for rows.Next() {
		var (
			phase          string
			correct, total int
			digit, wrong   int
			recorded       int64
		)
		if err := rows.Scan(&phase, &correct, &total, &digit, &wrong, &recorded); err != nil {
			return nil, fmt.Errorf("runstore: scan evaluation: %w", err)
		}
		i, ok := index[phase]
		if !ok {
			i = len(evals)
			index[phase] = i
			evals = append(evals, Evaluation{
				Phase:      phase,
				Correct:    correct,
				Total:      total,
				RecordedAt: time.Unix(0, recorded),
			})
		}
		for len(evals[i].WrongCounts) <= digit {
			evals[i].WrongCounts = append(evals[i].WrongCounts, 0)
		}
		evals[i].WrongCounts[digit] = wrong
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runstore: iterate evaluations: %w", err)
	}
	return evals, nil
}

func requireRow(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("runstore: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}
