package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertDailyStats persists a batch of daily stats in one transaction.
// The (tenant_id, group_jid, date) key makes re-running a report for the
// same day idempotent.
func (db *DB) UpsertDailyStats(stats []DailyStat) error {
	if len(stats) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO daily_stats (tenant_id, group_jid, date, total_members, joined, left_count, net_growth, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, group_jid, date) DO UPDATE SET
			total_members = excluded.total_members,
			joined = excluded.joined,
			left_count = excluded.left_count,
			net_growth = excluded.net_growth,
			notes = excluded.notes`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UnixMilli()
	for _, s := range stats {
		if _, err := stmt.Exec(s.TenantID, s.GroupJID, s.Date, s.TotalMembers, s.Joined, s.Left, s.NetGrowth, s.Notes, now); err != nil {
			return fmt.Errorf("upsert daily stat: %w", err)
		}
	}
	return tx.Commit()
}

// GetDailyStat returns the stat for one group and date, or nil if absent.
func (db *DB) GetDailyStat(tenantID, groupJID, date string) (*DailyStat, error) {
	var s DailyStat
	err := db.QueryRow(`
		SELECT tenant_id, group_jid, date, total_members, joined, left_count, net_growth, notes
		FROM daily_stats
		WHERE tenant_id = ? AND group_jid = ? AND date = ?`,
		tenantID, groupJID, date).
		Scan(&s.TenantID, &s.GroupJID, &s.Date, &s.TotalMembers, &s.Joined, &s.Left, &s.NetGrowth, &s.Notes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DailyStatsForGroup returns recent stats for a group, newest first.
func (db *DB) DailyStatsForGroup(tenantID, groupJID string, limit int) ([]DailyStat, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := db.Query(`
		SELECT tenant_id, group_jid, date, total_members, joined, left_count, net_growth, notes
		FROM daily_stats
		WHERE tenant_id = ? AND group_jid = ?
		ORDER BY date DESC
		LIMIT ?`, tenantID, groupJID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var stats []DailyStat
	for rows.Next() {
		var s DailyStat
		if err := rows.Scan(&s.TenantID, &s.GroupJID, &s.Date, &s.TotalMembers, &s.Joined, &s.Left, &s.NetGrowth, &s.Notes); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
