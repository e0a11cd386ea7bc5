package data

import (
	"database/sql"
	"math"
	"time"

	"github.com/pkg/errors"
)

const (
	insertRun = `INSERT INTO run (id, started_at, finished_at, state, model, score, error, train_rows, test_rows)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET finished_at = ?, state = ?, model = ?, score = ?, error = ?,
		train_rows = ?, test_rows = ?
	`

	deleteScores = `DELETE FROM score WHERE run_id = ?`

	insertScore = `INSERT INTO score (run_id, position, model, r2, mae, rmse, fit_ms) VALUES (?, ?, ?, ?, ?, ?, ?)`

	selectRuns = `SELECT id, started_at, finished_at, state, model, score, error, train_rows, test_rows
		FROM run ORDER BY started_at DESC, id LIMIT ?
	`

	selectRun = `SELECT id, started_at, finished_at, state, model, score, error, train_rows, test_rows
		FROM run WHERE id = ?
	`

	selectScores = `SELECT position, model, r2, mae, rmse, fit_ms FROM score WHERE run_id = ? ORDER BY position`

	// DefaultRunLimit caps ListRuns when no limit is given.
	DefaultRunLimit = 20
)

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded training run.
type Run struct {
	ID         string    `json:"id" yaml:"id"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	State      string    `json:"state" yaml:"state"`
	Model      string    `json:"model,omitempty" yaml:"model,omitempty"`
	Score      float64   `json:"score,omitempty" yaml:"score,omitempty"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	TrainRows  int       `json:"train_rows" yaml:"train_rows"`
	TestRows   int       `json:"test_rows" yaml:"test_rows"`
	Scores     []Score   `json:"scores,omitempty" yaml:"scores,omitempty"`
}

// Score is the held-out evaluation of one candidate within a run.
type Score struct {
	Position    int           `json:"position" yaml:"position"`
	Model       string        `json:"model" yaml:"model"`
	R2          float64       `json:"r2" yaml:"r2"`
	MAE         float64       `json:"mae" yaml:"mae"`
	RMSE        float64       `json:"rmse" yaml:"rmse"`
	FitDuration time.Duration `json:"fit_duration" yaml:"fit_duration"`
}

// SaveRun inserts or replaces a run and its scores in one transaction.
func SaveRun(db *sql.DB, r *Run) error {
	if db == nil {
		return errDBNotInitialized
	}
	if r == nil || r.ID == "" {
		return errors.New("run with id required")
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	finished := r.FinishedAt.UnixMilli()
	score := nullFloat(r.Score)
	if _, err := tx.Exec(insertRun, r.ID, r.StartedAt.UnixMilli(), finished, r.State, r.Model, score, r.Error,
		r.TrainRows, r.TestRows, finished, r.State, r.Model, score, r.Error, r.TrainRows, r.TestRows); err != nil {
		return rollback(tx, errors.Wrapf(err, "failed to insert run: %s", r.ID))
	}

	if _, err := tx.Exec(deleteScores, r.ID); err != nil {
		return rollback(tx, errors.Wrapf(err, "failed to clear scores for run: %s", r.ID))
	}

	stmt, err := tx.Prepare(insertScore)
	if err != nil {
		return rollback(tx, errors.Wrap(err, "failed to prepare score insert statement"))
	}
	defer stmt.Close()

	for _, s := range r.Scores {
		if _, err := stmt.Exec(r.ID, s.Position, s.Model, nullFloat(s.R2), nullFloat(s.MAE), nullFloat(s.RMSE),
			s.FitDuration.Milliseconds()); err != nil {
			return rollback(tx, errors.Wrapf(err, "failed to insert score for model: %s", s.Model))
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// ListRuns returns the most recent runs, newest first, without their scores.
func ListRuns(db *sql.DB, limit int) ([]*Run, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	if limit <= 0 {
		limit = DefaultRunLimit
	}

	stmt, err := db.Prepare(selectRuns)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare run select statement")
	}
	defer stmt.Close()

	rows, err := stmt.Query(limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query runs")
	}
	defer rows.Close()

	list := make([]*Run, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate runs")
	}
	return list, nil
}

// GetRun returns one run with its candidate scores.
func GetRun(db *sql.DB, id string) (*Run, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	r, err := scanRun(db.QueryRow(selectRun, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(ErrRunNotFound, "id: %s", id)
		}
		return nil, err
	}

	rows, err := db.Query(selectScores, id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query scores for run: %s", id)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			s            Score
			r2, mae, rms sql.NullFloat64
			fitMS        int64
		)
		if err := rows.Scan(&s.Position, &s.Model, &r2, &mae, &rms, &fitMS); err != nil {
			return nil, errors.Wrap(err, "failed to scan score")
		}
		s.R2, s.MAE, s.RMSE = fromNull(r2), fromNull(mae), fromNull(rms)
		s.FitDuration = time.Duration(fitMS) * time.Millisecond
		r.Scores = append(r.Scores, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate scores")
	}
	return r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r                 Run
		started, finished int64
		model, msg        sql.NullString
		score             sql.NullFloat64
	)
	if err := s.Scan(&r.ID, &started, &finished, &r.State, &model, &score, &msg, &r.TrainRows, &r.TestRows); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan run")
	}
	r.StartedAt = time.UnixMilli(started).UTC()
	r.FinishedAt = time.UnixMilli(finished).UTC()
	r.Model = model.String
	r.Error = msg.String
	r.Score = fromNull(score)
	return &r, nil
}

func rollback(tx *sql.Tx, err error) error {
	if rbErr := tx.Rollback(); rbErr != nil {
		return errors.Wrapf(err, "rollback failed: %v", rbErr)
	}
	return err
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return 0
	}
	return v.Float64
}
