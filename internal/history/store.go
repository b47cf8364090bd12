package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"avatarreel/internal/config"
	"avatarreel/internal/stage"
)

const runColumns = "id, run_id, status, engine, device, matting, avatar_path, audio_path, background_path, output_path, workdir, failed_stage, error_kind, error_message, frames, fps, media_duration_ms, size_bytes, stages_json, started_at, finished_at, updated_at"

// DefaultListLimit bounds List when callers pass a non-positive limit.
const DefaultListLimit = 20

// Store manages run history persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open connects to the history database under the configured state directory.
func Open(cfg *config.Config) (*Store, error) {
	return OpenPath(cfg.HistoryPath())
}

// OpenPath opens or creates the history database at dbPath.
func OpenPath(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure history dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Start inserts run as running. RunID and StartedAt are required.
func (s *Store) Start(ctx context.Context, run *Run) error {
	if run == nil || strings.TrimSpace(run.RunID) == "" {
		return errors.New("start run: run id is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.Status = StatusRunning
	now := time.Now().UTC()
	stages, err := encodeStages(run.Stages)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (
            run_id, status, engine, device, matting, avatar_path, audio_path,
            background_path, output_path, workdir, stages_json, started_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID,
		run.Status,
		nullableString(run.Engine),
		nullableString(run.Device),
		nullableString(run.Matting),
		nullableString(run.AvatarPath),
		nullableString(run.AudioPath),
		nullableString(run.BackgroundPath),
		nullableString(run.OutputPath),
		nullableString(run.Workdir),
		stages,
		formatTime(run.StartedAt),
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	run.ID = id
	run.UpdatedAt = now
	return nil
}

// Finish records the outcome of run. Status must be succeeded or failed.
func (s *Store) Finish(ctx context.Context, run *Run) error {
	if run == nil || strings.TrimSpace(run.RunID) == "" {
		return errors.New("finish run: run id is required")
	}
	if run.Status != StatusSucceeded && run.Status != StatusFailed {
		return fmt.Errorf("finish run: invalid status %q", run.Status)
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}
	now := time.Now().UTC()
	stages, err := encodeStages(run.Stages)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET
            status = ?, engine = ?, device = ?, matting = ?, audio_path = ?,
            output_path = ?, workdir = ?, failed_stage = ?, error_kind = ?,
            error_message = ?, frames = ?, fps = ?, media_duration_ms = ?,
            size_bytes = ?, stages_json = ?, finished_at = ?, updated_at = ?
        WHERE run_id = ?`,
		run.Status,
		nullableString(run.Engine),
		nullableString(run.Device),
		nullableString(run.Matting),
		nullableString(run.AudioPath),
		nullableString(run.OutputPath),
		nullableString(run.Workdir),
		nullableString(run.FailedStage),
		nullableString(run.ErrorKind),
		nullableString(run.ErrorMessage),
		run.Frames,
		run.FPS,
		run.MediaDuration.Milliseconds(),
		run.SizeBytes,
		stages,
		formatTime(run.FinishedAt),
		formatTime(now),
		run.RunID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("finish run: %s not recorded", run.RunID)
	}
	run.UpdatedAt = now
	return nil
}

// Get fetches a run by run id. A missing run yields nil, nil.
func (s *Store) Get(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, strings.TrimSpace(runID))
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// List returns up to limit runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Stats returns a count of runs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("history stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Summarize aggregates Stats for display.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return Summary{}, err
	}
	var summary Summary
	for status, count := range stats {
		summary.Total += count
		switch status {
		case StatusRunning:
			summary.Running += count
		case StatusSucceeded:
			summary.Succeeded += count
		case StatusFailed:
			summary.Failed += count
		}
	}
	return summary, nil
}

// Clear removes finished runs and returns how many rows were deleted. Runs
// still marked running are kept so a concurrent run can finish its record.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE status != ?`, StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return res.RowsAffected()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run         Run
		statusStr   string
		engine      sql.NullString
		device      sql.NullString
		matting     sql.NullString
		avatar      sql.NullString
		audio       sql.NullString
		background  sql.NullString
		output      sql.NullString
		workdir     sql.NullString
		failedStage sql.NullString
		errorKind   sql.NullString
		errorMsg    sql.NullString
		durationMS  int64
		stagesJSON  sql.NullString
		startedRaw  string
		finishedRaw sql.NullString
		updatedRaw  string
	)
	if err := scanner.Scan(
		&run.ID,
		&run.RunID,
		&statusStr,
		&engine,
		&device,
		&matting,
		&avatar,
		&audio,
		&background,
		&output,
		&workdir,
		&failedStage,
		&errorKind,
		&errorMsg,
		&run.Frames,
		&run.FPS,
		&durationMS,
		&run.SizeBytes,
		&stagesJSON,
		&startedRaw,
		&finishedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	run.Status = Status(statusStr)
	run.Engine = engine.String
	run.Device = device.String
	run.Matting = matting.String
	run.AvatarPath = avatar.String
	run.AudioPath = audio.String
	run.BackgroundPath = background.String
	run.OutputPath = output.String
	run.Workdir = workdir.String
	run.FailedStage = failedStage.String
	run.ErrorKind = errorKind.String
	run.ErrorMessage = errorMsg.String
	run.MediaDuration = time.Duration(durationMS) * time.Millisecond

	if stagesJSON.Valid && stagesJSON.String != "" {
		if err := json.Unmarshal([]byte(stagesJSON.String), &run.Stages); err != nil {
			return nil, fmt.Errorf("decode stages for %s: %w", run.RunID, err)
		}
	}
	if started, err := parseTimeString(startedRaw); err == nil {
		run.StartedAt = started
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			run.FinishedAt = finished
		}
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		run.UpdatedAt = updated
	}
	return &run, nil
}

func encodeStages(reports []stage.Report) (any, error) {
	if len(reports) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(reports)
	if err != nil {
		return nil, fmt.Errorf("encode stages: %w", err)
	}
	return string(data), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// timeLayout has fixed-width fractions so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
