package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"courtside/internal/domain"
)

const jobColumns = `id, event_id, away_team, home_team, pick_team, tip_off,
	execute_after, execute_before, status, side, paired_job_id, bothside_gid,
	merge_status, retry_count, error_message, p_low, confidence,
	dca_group_id, dca_entries_done, dca_max_entries, dca_slice_usd, dca_budget_usd,
	created_at, updated_at`

// SaveTradeJob inserts or replaces a trade job.
func (s *SQLiteStorage) SaveTradeJob(ctx context.Context, j domain.TradeJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trade_jobs (`+jobColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.EventID, j.AwayTeam, j.HomeTeam, j.PickTeam, tstr(j.TipOff),
		tstr(j.ExecuteAfter), tstr(j.ExecuteBefore), string(j.Status), string(j.Side),
		j.PairedJobID, j.BothsideGID, string(j.MergeStatus), j.RetryCount, j.ErrorMessage,
		j.PLow, string(j.Confidence),
		j.DCAGroupID, j.DCAEntriesDone, j.DCAMaxEntries, j.DCASliceUSD, j.DCABudgetUSD,
		tstr(j.CreatedAt), tstr(j.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveTradeJob: %w", err)
	}
	return nil
}

// UpdateJobStatus transitions a job and records the error message (empty
// string clears it).
func (s *SQLiteStorage) UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus, errorMessage string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE trade_jobs SET status=?, error_message=?, updated_at=? WHERE id=?`,
		string(status), errorMessage, tstr(time.Now()), jobID)
	if err != nil {
		return fmt.Errorf("storage.UpdateJobStatus: %w", err)
	}
	return nil
}

// UpdateJobDCA bumps the completed slice counter.
func (s *SQLiteStorage) UpdateJobDCA(ctx context.Context, jobID string, entriesDone int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE trade_jobs SET dca_entries_done=?, updated_at=? WHERE id=?`,
		entriesDone, tstr(time.Now()), jobID)
	if err != nil {
		return fmt.Errorf("storage.UpdateJobDCA: %w", err)
	}
	return nil
}

// UpdateJobMergeStatus records merge progress on the owning job.
func (s *SQLiteStorage) UpdateJobMergeStatus(ctx context.Context, jobID string, ms domain.MergeStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE trade_jobs SET merge_status=?, updated_at=? WHERE id=?`,
		string(ms), tstr(time.Now()), jobID)
	if err != nil {
		return fmt.Errorf("storage.UpdateJobMergeStatus: %w", err)
	}
	return nil
}

// GetJob returns one job by ID.
func (s *SQLiteStorage) GetJob(ctx context.Context, jobID string) (domain.TradeJob, error) {
	jobs, err := s.queryJobs(ctx, `WHERE id=?`, jobID)
	if err != nil {
		return domain.TradeJob{}, err
	}
	if len(jobs) == 0 {
		return domain.TradeJob{}, fmt.Errorf("storage.GetJob: %s: %w", jobID, sql.ErrNoRows)
	}
	return jobs[0], nil
}

// GetDueJobs returns pending and dca_active jobs whose execution window
// contains now, oldest window first.
func (s *SQLiteStorage) GetDueJobs(ctx context.Context, now time.Time) ([]domain.TradeJob, error) {
	nowStr := now.UTC().Format(time.RFC3339)
	return s.queryJobs(ctx,
		`WHERE status IN ('pending','dca_active') AND execute_after <= ? AND execute_before > ?
		 ORDER BY execute_after ASC`, nowStr, nowStr)
}

// GetJobsByStatus returns all jobs in the given state.
func (s *SQLiteStorage) GetJobsByStatus(ctx context.Context, status domain.JobStatus) ([]domain.TradeJob, error) {
	return s.queryJobs(ctx, `WHERE status=? ORDER BY execute_after ASC`, string(status))
}

// GetActiveJobs returns all jobs still needing scheduler attention.
func (s *SQLiteStorage) GetActiveJobs(ctx context.Context) ([]domain.TradeJob, error) {
	return s.queryJobs(ctx,
		`WHERE status IN ('pending','executing','dca_active') ORDER BY execute_after ASC`)
}

// GetJobForEventSide returns the active job for (event, side), nil if none.
func (s *SQLiteStorage) GetJobForEventSide(ctx context.Context, eventID string, side domain.JobSide) (*domain.TradeJob, error) {
	jobs, err := s.queryJobs(ctx,
		`WHERE event_id=? AND side=? AND status IN ('pending','executing','dca_active')`,
		eventID, string(side))
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

func (s *SQLiteStorage) queryJobs(ctx context.Context, where string, args ...any) ([]domain.TradeJob, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM trade_jobs `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.queryJobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.TradeJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.queryJobs: scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func scanJob(rows *sql.Rows) (domain.TradeJob, error) {
	var j domain.TradeJob
	var tipOff, execAfter, execBefore, createdAt, updatedAt sql.NullString
	var status, side, mergeStatus, confidence string

	err := rows.Scan(
		&j.ID, &j.EventID, &j.AwayTeam, &j.HomeTeam, &j.PickTeam, &tipOff,
		&execAfter, &execBefore, &status, &side, &j.PairedJobID, &j.BothsideGID,
		&mergeStatus, &j.RetryCount, &j.ErrorMessage, &j.PLow, &confidence,
		&j.DCAGroupID, &j.DCAEntriesDone, &j.DCAMaxEntries, &j.DCASliceUSD, &j.DCABudgetUSD,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return j, err
	}

	j.Status = domain.JobStatus(status)
	j.Side = domain.JobSide(side)
	j.MergeStatus = domain.MergeStatus(mergeStatus)
	j.Confidence = domain.Confidence(confidence)
	j.TipOff = parseTime(tipOff)
	j.ExecuteAfter = parseTime(execAfter)
	j.ExecuteBefore = parseTime(execBefore)
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return j, nil
}
