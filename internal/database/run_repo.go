package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AnalysisRun is one row of the run index: a summary of a completed or
// failed analysis, pointing at the report artifact on disk.
type AnalysisRun struct {
	ID               string    `json:"id"`
	RunID            string    `json:"run_id"`
	Mode             string    `json:"mode"`
	Status           string    `json:"status"`
	AdsAnalyzed      int       `json:"ads_analyzed"`
	TotalImages      int       `json:"total_images"`
	TotalVideoFrames int       `json:"total_video_frames"`
	TokensUsed       int       `json:"tokens_used"`
	Model            string    `json:"model"`
	ReportPath       string    `json:"report_path"`
	Message          string    `json:"message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type RunRepository struct {
	db *DB
}

func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Insert(ctx context.Context, run *AnalysisRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO analysis_runs (
			id, run_id, mode, status, ads_analyzed, total_images,
			total_video_frames, tokens_used, model, report_path, message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.conn.ExecContext(ctx, query,
		run.ID, run.RunID, run.Mode, run.Status, run.AdsAnalyzed, run.TotalImages,
		run.TotalVideoFrames, run.TokensUsed, run.Model, run.ReportPath, run.Message, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert analysis run: %w", err)
	}
	return nil
}

func (r *RunRepository) ListRecent(ctx context.Context, limit int) ([]AnalysisRun, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, run_id, mode, status, ads_analyzed, total_images,
			total_video_frames, tokens_used, model, report_path, message, created_at
		FROM analysis_runs
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := r.db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis runs: %w", err)
	}
	defer rows.Close()

	var runs []AnalysisRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LatestByRunID returns the most recent analysis of a run, or nil when none
// exists.
func (r *RunRepository) LatestByRunID(ctx context.Context, runID string) (*AnalysisRun, error) {
	query := `
		SELECT id, run_id, mode, status, ads_analyzed, total_images,
			total_video_frames, tokens_used, model, report_path, message, created_at
		FROM analysis_runs
		WHERE run_id = ?
		ORDER BY created_at DESC
		LIMIT 1`

	rows, err := r.db.conn.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	run, err := scanRun(rows)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func scanRun(rows *sql.Rows) (AnalysisRun, error) {
	var run AnalysisRun
	var model, reportPath, message sql.NullString
	err := rows.Scan(&run.ID, &run.RunID, &run.Mode, &run.Status, &run.AdsAnalyzed,
		&run.TotalImages, &run.TotalVideoFrames, &run.TokensUsed,
		&model, &reportPath, &message, &run.CreatedAt)
	if err != nil {
		return AnalysisRun{}, fmt.Errorf("failed to scan analysis run: %w", err)
	}
	run.Model = model.String
	run.ReportPath = reportPath.String
	run.Message = message.String
	return run, nil
}
