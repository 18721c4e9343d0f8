package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"courtside/internal/domain"
)

const signalColumns = `id, job_id, event_id, condition_id, token_id, role,
	bothside_gid, dca_seq, target_price, kelly_size_usd, order_id, order_status,
	fill_price, filled_shares, shares_merged, merge_recovery_usd,
	order_placed_at, order_replace_count, order_last_checked_at,
	order_original_price, created_at`

// SaveSignal inserts or replaces a signal.
func (s *SQLiteStorage) SaveSignal(ctx context.Context, sig domain.Signal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO signals (`+signalColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sig.ID, sig.JobID, sig.EventID, sig.ConditionID, sig.TokenID, string(sig.Role),
		sig.BothsideGID, sig.DCASeq, sig.TargetPrice, sig.KellySizeUSD,
		sig.OrderID, string(sig.OrderStatus),
		sig.FillPrice, sig.FilledShares, sig.SharesMerged, sig.MergeRecoveryUSD,
		tstr(sig.OrderPlacedAt), sig.OrderReplaceCount, tstr(sig.OrderLastCheckedAt),
		sig.OrderOriginalPrice, tstr(sig.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveSignal: %w", err)
	}
	return nil
}

// UpdateSignalOrder persists the order-lifecycle fields after a check. Only
// writes the fields the lifecycle manager owns.
func (s *SQLiteStorage) UpdateSignalOrder(ctx context.Context, sig domain.Signal) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE signals SET
		  order_id=?, order_status=?, order_placed_at=?, order_replace_count=?,
		  order_last_checked_at=?, order_original_price=?, target_price=?
		WHERE id=?`,
		sig.OrderID, string(sig.OrderStatus), tstr(sig.OrderPlacedAt),
		sig.OrderReplaceCount, tstr(sig.OrderLastCheckedAt),
		sig.OrderOriginalPrice, sig.TargetPrice, sig.ID,
	)
	if err != nil {
		return fmt.Errorf("storage.UpdateSignalOrder: %w", err)
	}
	return nil
}

// MarkSignalFilled records the fill and freezes the signal. Terminal signals
// are never updated again.
func (s *SQLiteStorage) MarkSignalFilled(ctx context.Context, signalID string, fillPrice, filledShares float64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE signals SET order_status=?, fill_price=?, filled_shares=?, order_last_checked_at=?
		WHERE id=? AND order_status NOT IN ('filled','cancelled','expired')`,
		string(domain.OrderFilled), fillPrice, filledShares, tstr(at), signalID)
	if err != nil {
		return fmt.Errorf("storage.MarkSignalFilled: %w", err)
	}
	return nil
}

// MarkSignalClosed moves a signal to cancelled or expired.
func (s *SQLiteStorage) MarkSignalClosed(ctx context.Context, signalID string, status domain.OrderStatus, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE signals SET order_status=?, order_last_checked_at=?
		WHERE id=? AND order_status NOT IN ('filled','cancelled','expired')`,
		string(status), tstr(at), signalID)
	if err != nil {
		return fmt.Errorf("storage.MarkSignalClosed: %w", err)
	}
	return nil
}

// UpdateSignalMerge records merged shares and the USD recovered for them.
func (s *SQLiteStorage) UpdateSignalMerge(ctx context.Context, signalID string, sharesMerged, recoveryUSD float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE signals SET shares_merged=?, merge_recovery_usd=? WHERE id=?`,
		sharesMerged, recoveryUSD, signalID)
	if err != nil {
		return fmt.Errorf("storage.UpdateSignalMerge: %w", err)
	}
	return nil
}

// GetSignal returns one signal by ID.
func (s *SQLiteStorage) GetSignal(ctx context.Context, signalID string) (domain.Signal, error) {
	sigs, err := s.querySignals(ctx, `WHERE id=?`, signalID)
	if err != nil {
		return domain.Signal{}, err
	}
	if len(sigs) == 0 {
		return domain.Signal{}, fmt.Errorf("storage.GetSignal: %s: %w", signalID, sql.ErrNoRows)
	}
	return sigs[0], nil
}

// GetSignalsByJob returns all signals for a job ordered by DCA sequence.
func (s *SQLiteStorage) GetSignalsByJob(ctx context.Context, jobID string) ([]domain.Signal, error) {
	// Retry attempts share a dca_seq; rowid breaks the tie in insertion order.
	return s.querySignals(ctx, `WHERE job_id=? ORDER BY dca_seq ASC, rowid ASC`, jobID)
}

// GetActivePlacedSignals returns open signals with a live exchange order,
// oldest placement first, bounded by limit.
func (s *SQLiteStorage) GetActivePlacedSignals(ctx context.Context, limit int) ([]domain.Signal, error) {
	return s.querySignals(ctx,
		`WHERE order_status='open' AND order_id != ''
		 ORDER BY order_placed_at ASC LIMIT ?`, limit)
}

// GetFilledSignalsByEvent returns every filled signal for an event.
func (s *SQLiteStorage) GetFilledSignalsByEvent(ctx context.Context, eventID string) ([]domain.Signal, error) {
	return s.querySignals(ctx,
		`WHERE event_id=? AND order_status='filled' ORDER BY created_at ASC`, eventID)
}

func (s *SQLiteStorage) querySignals(ctx context.Context, where string, args ...any) ([]domain.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+signalColumns+` FROM signals `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.querySignals: %w", err)
	}
	defer rows.Close()

	var sigs []domain.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.querySignals: scan: %w", err)
		}
		sigs = append(sigs, sig)
	}
	return sigs, rows.Err()
}

func scanSignal(rows *sql.Rows) (domain.Signal, error) {
	var sig domain.Signal
	var role, status string
	var placedAt, checkedAt, createdAt sql.NullString

	err := rows.Scan(
		&sig.ID, &sig.JobID, &sig.EventID, &sig.ConditionID, &sig.TokenID, &role,
		&sig.BothsideGID, &sig.DCASeq, &sig.TargetPrice, &sig.KellySizeUSD,
		&sig.OrderID, &status,
		&sig.FillPrice, &sig.FilledShares, &sig.SharesMerged, &sig.MergeRecoveryUSD,
		&placedAt, &sig.OrderReplaceCount, &checkedAt,
		&sig.OrderOriginalPrice, &createdAt,
	)
	if err != nil {
		return sig, err
	}

	sig.Role = domain.SignalRole(role)
	sig.OrderStatus = domain.OrderStatus(status)
	sig.OrderPlacedAt = parseTime(placedAt)
	sig.OrderLastCheckedAt = parseTime(checkedAt)
	sig.CreatedAt = parseTime(createdAt)
	return sig, nil
}

// ─── Order events ────────────────────────────────────────────────────────────

// AppendOrderEvent inserts one audit record. Events are never updated.
func (s *SQLiteStorage) AppendOrderEvent(ctx context.Context, e domain.OrderEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO order_events (signal_id, order_id, kind, price, best_ask, note, at)
		VALUES (?,?,?,?,?,?,?)`,
		e.SignalID, e.OrderID, string(e.Kind), e.Price, e.BestAsk, e.Note, tstr(e.At))
	if err != nil {
		return fmt.Errorf("storage.AppendOrderEvent: %w", err)
	}
	return nil
}

// GetOrderEvents returns a signal's audit trail in insertion order.
func (s *SQLiteStorage) GetOrderEvents(ctx context.Context, signalID string) ([]domain.OrderEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, signal_id, order_id, kind, price, best_ask, note, at
		FROM order_events WHERE signal_id=? ORDER BY id ASC`, signalID)
	if err != nil {
		return nil, fmt.Errorf("storage.GetOrderEvents: %w", err)
	}
	defer rows.Close()

	var events []domain.OrderEvent
	for rows.Next() {
		var e domain.OrderEvent
		var kind string
		var at sql.NullString
		if err := rows.Scan(&e.ID, &e.SignalID, &e.OrderID, &kind, &e.Price, &e.BestAsk, &e.Note, &at); err != nil {
			return nil, fmt.Errorf("storage.GetOrderEvents: scan: %w", err)
		}
		e.Kind = domain.OrderEventKind(kind)
		e.At = parseTime(at)
		events = append(events, e)
	}
	return events, rows.Err()
}
