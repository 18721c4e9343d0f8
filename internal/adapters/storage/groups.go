package storage

import (
	"context"
	"database/sql"
	"fmt"

	"courtside/internal/domain"
)

const groupColumns = `id, event_id, state, m_target, d_target, q_dir, q_opp,
	merged_qty, d_max, dir_cost_usd, opp_cost_usd, won, created_at, updated_at, settled_at`

// SavePositionGroup inserts or replaces a position group.
func (s *SQLiteStorage) SavePositionGroup(ctx context.Context, g domain.PositionGroup) error {
	won := 0
	if g.Won {
		won = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO position_groups (`+groupColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		g.ID, g.EventID, string(g.State), g.MTarget, g.DTarget, g.QDir, g.QOpp,
		g.MergedQty, g.DMax, g.DirCostUSD, g.OppCostUSD, won,
		tstr(g.CreatedAt), tstr(g.UpdatedAt), tptr(g.SettledAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SavePositionGroup: %w", err)
	}
	return nil
}

// GetPositionGroupByEvent returns the group for an event, nil if none exists.
func (s *SQLiteStorage) GetPositionGroupByEvent(ctx context.Context, eventID string) (*domain.PositionGroup, error) {
	groups, err := s.queryGroups(ctx, `WHERE event_id=?`, eventID)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, nil
	}
	return &groups[0], nil
}

// GetOpenPositionGroups returns every group not yet settled.
func (s *SQLiteStorage) GetOpenPositionGroups(ctx context.Context) ([]domain.PositionGroup, error) {
	return s.queryGroups(ctx, `WHERE state != 'settled' ORDER BY created_at ASC`)
}

func (s *SQLiteStorage) queryGroups(ctx context.Context, where string, args ...any) ([]domain.PositionGroup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+groupColumns+` FROM position_groups `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.queryGroups: %w", err)
	}
	defer rows.Close()

	var groups []domain.PositionGroup
	for rows.Next() {
		var g domain.PositionGroup
		var state string
		var won int
		var createdAt, updatedAt, settledAt sql.NullString

		if err := rows.Scan(
			&g.ID, &g.EventID, &state, &g.MTarget, &g.DTarget, &g.QDir, &g.QOpp,
			&g.MergedQty, &g.DMax, &g.DirCostUSD, &g.OppCostUSD, &won,
			&createdAt, &updatedAt, &settledAt,
		); err != nil {
			return nil, fmt.Errorf("storage.queryGroups: scan: %w", err)
		}

		g.State = domain.GroupState(state)
		g.Won = won != 0
		g.CreatedAt = parseTime(createdAt)
		g.UpdatedAt = parseTime(updatedAt)
		if t := parseTime(settledAt); !t.IsZero() {
			g.SettledAt = &t
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// AppendGroupAudit inserts one append-only group audit record.
func (s *SQLiteStorage) AppendGroupAudit(ctx context.Context, e domain.PositionGroupAuditEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO position_group_audit
		  (group_id, reason, before_state, after_state, d, m, d_max, merge_amount, note, at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.GroupID, string(e.Reason), string(e.BeforeState), string(e.AfterState),
		e.D, e.M, e.DMax, e.MergeAmount, e.Note, tstr(e.At))
	if err != nil {
		return fmt.Errorf("storage.AppendGroupAudit: %w", err)
	}
	return nil
}

// GetGroupAudit returns a group's audit trail in insertion order.
func (s *SQLiteStorage) GetGroupAudit(ctx context.Context, groupID string) ([]domain.PositionGroupAuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, reason, before_state, after_state, d, m, d_max, merge_amount, note, at
		FROM position_group_audit WHERE group_id=? ORDER BY id ASC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("storage.GetGroupAudit: %w", err)
	}
	defer rows.Close()

	var events []domain.PositionGroupAuditEvent
	for rows.Next() {
		var e domain.PositionGroupAuditEvent
		var reason, before, after string
		var at sql.NullString
		if err := rows.Scan(&e.ID, &e.GroupID, &reason, &before, &after,
			&e.D, &e.M, &e.DMax, &e.MergeAmount, &e.Note, &at); err != nil {
			return nil, fmt.Errorf("storage.GetGroupAudit: scan: %w", err)
		}
		e.Reason = domain.AuditReason(reason)
		e.BeforeState = domain.GroupState(before)
		e.AfterState = domain.GroupState(after)
		e.At = parseTime(at)
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetSettledLegResults derives (cost, PnL) per leg from filled signals of
// settled groups. Cost is the filled notional; PnL is merge recovery plus
// redemption value minus cost.
func (s *SQLiteStorage) GetSettledLegResults(ctx context.Context) ([]domain.LegResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sig.bothside_gid, sig.role, sig.event_id,
		       SUM(sig.fill_price * sig.filled_shares),
		       SUM(sig.merge_recovery_usd) +
		         SUM(CASE WHEN (pg.won = 1 AND sig.role = 'directional')
		                    OR (pg.won = 0 AND sig.role = 'hedge')
		                  THEN sig.filled_shares - sig.shares_merged ELSE 0 END) -
		         SUM(sig.fill_price * sig.filled_shares),
		       pg.settled_at
		FROM signals sig
		JOIN position_groups pg ON pg.event_id = sig.event_id
		WHERE pg.state = 'settled' AND sig.order_status = 'filled' AND sig.bothside_gid != ''
		GROUP BY sig.bothside_gid, sig.role`)
	if err != nil {
		return nil, fmt.Errorf("storage.GetSettledLegResults: %w", err)
	}
	defer rows.Close()

	var results []domain.LegResult
	for rows.Next() {
		var r domain.LegResult
		var role string
		var settledAt sql.NullString
		if err := rows.Scan(&r.BothsideGID, &role, &r.EventID, &r.CostUSD, &r.PnLUSD, &settledAt); err != nil {
			return nil, fmt.Errorf("storage.GetSettledLegResults: scan: %w", err)
		}
		r.Role = domain.SignalRole(role)
		r.SettledAt = parseTime(settledAt)
		results = append(results, r)
	}
	return results, rows.Err()
}
