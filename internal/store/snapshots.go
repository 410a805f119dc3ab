package store

import "fmt"

// InsertSnapshots appends a batch of snapshots in one transaction.
// Snapshots are append-only; one batch per capture run keeps write
// amplification down.
func (db *DB) InsertSnapshots(snapshots []Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO group_snapshots (tenant_id, group_jid, total_members, captured_at)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, s := range snapshots {
		if _, err := stmt.Exec(s.TenantID, s.GroupJID, s.TotalMembers, s.CapturedAt); err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
	}
	return tx.Commit()
}

// SnapshotsForGroup returns the most recent snapshots for a group, newest first.
func (db *DB) SnapshotsForGroup(tenantID, groupJID string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, tenant_id, group_jid, total_members, captured_at
		FROM group_snapshots
		WHERE tenant_id = ? AND group_jid = ?
		ORDER BY captured_at DESC
		LIMIT ?`, tenantID, groupJID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var snaps []Snapshot
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.ID, &s.TenantID, &s.GroupJID, &s.TotalMembers, &s.CapturedAt); err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}
