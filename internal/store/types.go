package store

// TrackedGroup is a WhatsApp group a tenant tracks. The dashboard owns the
// list; the daemon syncs it from the account's joined groups and reads only
// active rows.
type TrackedGroup struct {
	TenantID  string `json:"tenantId"`
	GroupJID  string `json:"groupJid"`
	Name      string `json:"name"`
	IsActive  bool   `json:"isActive"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Snapshot is an immutable point-in-time member count for one group.
type Snapshot struct {
	ID           int64  `json:"id"`
	TenantID     string `json:"tenantId"`
	GroupJID     string `json:"groupJid"`
	TotalMembers int    `json:"totalMembers"`
	CapturedAt   int64  `json:"capturedAt"`
}

// DailyStat is the derived per-day, per-group growth record.
// (TenantID, GroupJID, Date) is unique; recomputation is idempotent.
type DailyStat struct {
	TenantID     string `json:"tenantId"`
	GroupJID     string `json:"groupJid"`
	Date         string `json:"date"` // YYYY-MM-DD, UTC
	TotalMembers int    `json:"totalMembers"`
	Joined       int    `json:"joined"`
	Left         int    `json:"left"`
	NetGrowth    int    `json:"netGrowth"`
	Notes        string `json:"notes,omitempty"`
}

// MemberActivity aggregates one member's messaging behavior in one group.
type MemberActivity struct {
	TenantID      string `json:"tenantId"`
	GroupJID      string `json:"groupJid"`
	MemberJID     string `json:"memberJid"`
	MemberName    string `json:"memberName"`
	MessageCount  int64  `json:"messageCount"`
	MessagesToday int64  `json:"messagesToday"`
	MessagesWeek  int64  `json:"messagesWeek"`
	LastMessageAt int64  `json:"lastMessageAt"`
	IsAdmin       bool   `json:"isAdmin"`
	IsActive      bool   `json:"isActive"`
	ActivityLevel string `json:"activityLevel"`
}

// GroupMessage is a raw inbound group message. The (TenantID, MsgID) unique
// constraint makes raw persistence idempotent under duplicate delivery.
type GroupMessage struct {
	TenantID    string `json:"tenantId"`
	MsgID       string `json:"msgId"`
	GroupJID    string `json:"groupJid"`
	SenderJID   string `json:"senderJid"`
	SenderName  string `json:"senderName"`
	SenderPhone string `json:"senderPhone,omitempty"`
	MessageType string `json:"messageType"`
	IsAdmin     bool   `json:"isAdmin"`
	Timestamp   int64  `json:"timestamp"` // unix millis
}

// MessageStat holds per-day or per-hour message counters for a group.
type MessageStat struct {
	TenantID      string `json:"tenantId"`
	GroupJID      string `json:"groupJid"`
	Date          string `json:"date"`
	Hour          int    `json:"hour"` // -1 for daily rows
	TotalMessages int64  `json:"totalMessages"`
	AdminMessages int64  `json:"adminMessages"`
	UserMessages  int64  `json:"userMessages"`
}
