package store

import (
	"fmt"
	"strings"
	"time"
)

// UpsertTrackedGroup inserts or reactivates a tracked group.
func (db *DB) UpsertTrackedGroup(g *TrackedGroup) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO tracked_groups (tenant_id, group_jid, name, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, group_jid) DO UPDATE SET
			name = excluded.name,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		g.TenantID, g.GroupJID, g.Name, g.IsActive, now, now)
	return err
}

// ActiveGroups returns the tenant's active tracked groups ordered by name.
func (db *DB) ActiveGroups(tenantID string) ([]TrackedGroup, error) {
	rows, err := db.Query(`
		SELECT tenant_id, group_jid, name, is_active, created_at, updated_at
		FROM tracked_groups
		WHERE tenant_id = ? AND is_active = 1
		ORDER BY name ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var groups []TrackedGroup
	for rows.Next() {
		var g TrackedGroup
		if err := rows.Scan(&g.TenantID, &g.GroupJID, &g.Name, &g.IsActive, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// DeactivateMissingGroups marks tracked groups not in seen as inactive.
// Called after a roster sync: groups the account left stop being captured
// but keep their history.
func (db *DB) DeactivateMissingGroups(tenantID string, seen []string) (int64, error) {
	if len(seen) == 0 {
		res, err := db.Exec(`UPDATE tracked_groups SET is_active = 0, updated_at = ? WHERE tenant_id = ? AND is_active = 1`,
			time.Now().UnixMilli(), tenantID)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}

	placeholders := strings.Repeat("?,", len(seen))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(seen)+2)
	args = append(args, time.Now().UnixMilli(), tenantID)
	for _, jid := range seen {
		args = append(args, jid)
	}

	query := fmt.Sprintf(`UPDATE tracked_groups SET is_active = 0, updated_at = ?
		WHERE tenant_id = ? AND is_active = 1 AND group_jid NOT IN (%s)`, placeholders)
	res, err := db.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
