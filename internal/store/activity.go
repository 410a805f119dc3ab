package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/matheus3301/grouptrack/internal/analytics"
)

// ApplyMessageBatch applies a flushed ingestion batch in one transaction.
// Per event: the raw message is persisted idempotently (duplicates on
// (tenant_id, msg_id) are ignored), daily and hourly counters are
// incremented, and the sender's activity record is updated with a fresh
// activity level. Counters are intentionally not deduplicated; duplicate
// delivery is rare and accepted as drift.
func (db *DB) ApplyMessageBatch(msgs []GroupMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if err := applyMessage(tx, &m, now); err != nil {
			return fmt.Errorf("apply message %s: %w", m.MsgID, err)
		}
	}
	return tx.Commit()
}

func applyMessage(tx *sql.Tx, m *GroupMessage, now int64) error {
	if _, err := tx.Exec(`
		INSERT INTO group_messages (tenant_id, msg_id, group_jid, sender_jid, sender_name, sender_phone, message_type, is_admin, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, msg_id) DO NOTHING`,
		m.TenantID, m.MsgID, m.GroupJID, m.SenderJID, m.SenderName, m.SenderPhone, m.MessageType, m.IsAdmin, m.Timestamp, now); err != nil {
		return fmt.Errorf("raw message: %w", err)
	}

	ts := time.UnixMilli(m.Timestamp).UTC()
	date := ts.Format("2006-01-02")
	hour := ts.Hour()

	adminInc, userInc := 0, 1
	if m.IsAdmin {
		adminInc, userInc = 1, 0
	}

	if _, err := tx.Exec(`
		INSERT INTO daily_message_stats (tenant_id, group_jid, date, total_messages, admin_messages, user_messages)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(tenant_id, group_jid, date) DO UPDATE SET
			total_messages = total_messages + 1,
			admin_messages = admin_messages + excluded.admin_messages,
			user_messages = user_messages + excluded.user_messages`,
		m.TenantID, m.GroupJID, date, adminInc, userInc); err != nil {
		return fmt.Errorf("daily counters: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO hourly_message_stats (tenant_id, group_jid, date, hour, total_messages, admin_messages, user_messages)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(tenant_id, group_jid, date, hour) DO UPDATE SET
			total_messages = total_messages + 1,
			admin_messages = admin_messages + excluded.admin_messages,
			user_messages = user_messages + excluded.user_messages`,
		m.TenantID, m.GroupJID, date, hour, adminInc, userInc); err != nil {
		return fmt.Errorf("hourly counters: %w", err)
	}

	var week int64
	if err := tx.QueryRow(`
		INSERT INTO member_activity (tenant_id, group_jid, member_jid, member_name, message_count, messages_today, messages_week, last_message_at, is_admin, is_active)
		VALUES (?, ?, ?, ?, 1, 1, 1, ?, ?, 1)
		ON CONFLICT(tenant_id, group_jid, member_jid) DO UPDATE SET
			member_name = CASE WHEN excluded.member_name != '' THEN excluded.member_name ELSE member_name END,
			message_count = message_count + 1,
			messages_today = messages_today + 1,
			messages_week = messages_week + 1,
			last_message_at = excluded.last_message_at,
			is_admin = excluded.is_admin,
			is_active = 1
		RETURNING messages_week`,
		m.TenantID, m.GroupJID, m.SenderJID, m.SenderName, m.Timestamp, m.IsAdmin).Scan(&week); err != nil {
		return fmt.Errorf("member activity: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE member_activity SET activity_level = ?
		WHERE tenant_id = ? AND group_jid = ? AND member_jid = ?`,
		analytics.ActivityLevel(week), m.TenantID, m.GroupJID, m.SenderJID); err != nil {
		return fmt.Errorf("activity level: %w", err)
	}
	return nil
}

// GetMemberActivity returns one member's activity record, or nil if absent.
func (db *DB) GetMemberActivity(tenantID, groupJID, memberJID string) (*MemberActivity, error) {
	var a MemberActivity
	err := db.QueryRow(`
		SELECT tenant_id, group_jid, member_jid, member_name, message_count, messages_today, messages_week,
			last_message_at, is_admin, is_active, activity_level
		FROM member_activity
		WHERE tenant_id = ? AND group_jid = ? AND member_jid = ?`,
		tenantID, groupJID, memberJID).
		Scan(&a.TenantID, &a.GroupJID, &a.MemberJID, &a.MemberName, &a.MessageCount, &a.MessagesToday,
			&a.MessagesWeek, &a.LastMessageAt, &a.IsAdmin, &a.IsActive, &a.ActivityLevel)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// TopMembers returns the most active members of a group by weekly count.
func (db *DB) TopMembers(tenantID, groupJID string, limit int) ([]MemberActivity, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT tenant_id, group_jid, member_jid, member_name, message_count, messages_today, messages_week,
			last_message_at, is_admin, is_active, activity_level
		FROM member_activity
		WHERE tenant_id = ? AND group_jid = ?
		ORDER BY messages_week DESC, message_count DESC
		LIMIT ?`, tenantID, groupJID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var members []MemberActivity
	for rows.Next() {
		var a MemberActivity
		if err := rows.Scan(&a.TenantID, &a.GroupJID, &a.MemberJID, &a.MemberName, &a.MessageCount, &a.MessagesToday,
			&a.MessagesWeek, &a.LastMessageAt, &a.IsAdmin, &a.IsActive, &a.ActivityLevel); err != nil {
			return nil, err
		}
		members = append(members, a)
	}
	return members, rows.Err()
}

// ResetScope selects which counters a periodic reset zeroes.
type ResetScope string

const (
	ResetDaily  ResetScope = "daily"
	ResetWeekly ResetScope = "weekly"
)

// ResetCounters zeroes today's or this week's per-member counters. Called
// by an external cron through the admin API; idempotent. A weekly reset
// also recomputes activity levels, since they derive from the weekly count.
func (db *DB) ResetCounters(scope ResetScope) (int64, error) {
	var res sql.Result
	var err error
	switch scope {
	case ResetDaily:
		res, err = db.Exec(`UPDATE member_activity SET messages_today = 0 WHERE messages_today != 0`)
	case ResetWeekly:
		res, err = db.Exec(`UPDATE member_activity SET messages_week = 0, activity_level = ? WHERE messages_week != 0 OR activity_level != ?`,
			analytics.LevelInactive, analytics.LevelInactive)
	default:
		return 0, fmt.Errorf("unknown reset scope %q", scope)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MessageStats returns daily counters for a group, newest first.
func (db *DB) MessageStats(tenantID, groupJID string, limit int) ([]MessageStat, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := db.Query(`
		SELECT tenant_id, group_jid, date, total_messages, admin_messages, user_messages
		FROM daily_message_stats
		WHERE tenant_id = ? AND group_jid = ?
		ORDER BY date DESC
		LIMIT ?`, tenantID, groupJID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var stats []MessageStat
	for rows.Next() {
		s := MessageStat{Hour: -1}
		if err := rows.Scan(&s.TenantID, &s.GroupJID, &s.Date, &s.TotalMessages, &s.AdminMessages, &s.UserMessages); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// HourlyStats returns hourly counters for one group and date.
func (db *DB) HourlyStats(tenantID, groupJID, date string) ([]MessageStat, error) {
	rows, err := db.Query(`
		SELECT tenant_id, group_jid, date, hour, total_messages, admin_messages, user_messages
		FROM hourly_message_stats
		WHERE tenant_id = ? AND group_jid = ? AND date = ?
		ORDER BY hour ASC`, tenantID, groupJID, date)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var stats []MessageStat
	for rows.Next() {
		var s MessageStat
		if err := rows.Scan(&s.TenantID, &s.GroupJID, &s.Date, &s.Hour, &s.TotalMessages, &s.AdminMessages, &s.UserMessages); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
