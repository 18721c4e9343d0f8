package storage

import (
	"context"
	"fmt"
	"time"

	"courtside/internal/domain"
)

// SaveDailySummary upserts the per-day snapshot.
func (s *SQLiteStorage) SaveDailySummary(ctx context.Context, d domain.DailySummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_summaries
		  (date, jobs_executed, jobs_skipped, jobs_expired, jobs_failed,
		   orders_placed, orders_filled, orders_replaced, orders_expired,
		   merge_qty, merge_recovery, realized_pnl, capital_deployed)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(date) DO UPDATE SET
		  jobs_executed=excluded.jobs_executed,
		  jobs_skipped=excluded.jobs_skipped,
		  jobs_expired=excluded.jobs_expired,
		  jobs_failed=excluded.jobs_failed,
		  orders_placed=excluded.orders_placed,
		  orders_filled=excluded.orders_filled,
		  orders_replaced=excluded.orders_replaced,
		  orders_expired=excluded.orders_expired,
		  merge_qty=excluded.merge_qty,
		  merge_recovery=excluded.merge_recovery,
		  realized_pnl=excluded.realized_pnl,
		  capital_deployed=excluded.capital_deployed`,
		d.Date.UTC().Format("2006-01-02"),
		d.JobsExecuted, d.JobsSkipped, d.JobsExpired, d.JobsFailed,
		d.OrdersPlaced, d.OrdersFilled, d.OrdersReplaced, d.OrdersExpired,
		d.MergeQty, d.MergeRecovery, d.RealizedPnL, d.CapitalDeployed,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveDailySummary: %w", err)
	}
	return nil
}

// GetDailySummaries returns all daily snapshots ordered by date.
func (s *SQLiteStorage) GetDailySummaries(ctx context.Context) ([]domain.DailySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, jobs_executed, jobs_skipped, jobs_expired, jobs_failed,
		       orders_placed, orders_filled, orders_replaced, orders_expired,
		       merge_qty, merge_recovery, realized_pnl, capital_deployed
		FROM daily_summaries ORDER BY date ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage.GetDailySummaries: %w", err)
	}
	defer rows.Close()

	var dailies []domain.DailySummary
	for rows.Next() {
		var d domain.DailySummary
		var dateStr string
		if err := rows.Scan(&dateStr, &d.JobsExecuted, &d.JobsSkipped, &d.JobsExpired, &d.JobsFailed,
			&d.OrdersPlaced, &d.OrdersFilled, &d.OrdersReplaced, &d.OrdersExpired,
			&d.MergeQty, &d.MergeRecovery, &d.RealizedPnL, &d.CapitalDeployed); err != nil {
			return nil, fmt.Errorf("storage.GetDailySummaries: scan: %w", err)
		}
		d.Date, _ = time.Parse("2006-01-02", dateStr)
		dailies = append(dailies, d)
	}
	return dailies, rows.Err()
}
