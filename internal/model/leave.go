package model

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// LeaveStatus tokens are compared literally by every store and stored as-is.
type LeaveStatus string

const (
	LeaveStatusPending   LeaveStatus = "pending"
	LeaveStatusApproved  LeaveStatus = "approved"
	LeaveStatusRejected  LeaveStatus = "rejected"
	LeaveStatusCancelled LeaveStatus = "cancelled"
)

// LeaveStatuses lists every status in display order.
var LeaveStatuses = []LeaveStatus{
	LeaveStatusPending,
	LeaveStatusApproved,
	LeaveStatusRejected,
	LeaveStatusCancelled,
}

// Valid reports whether s is one of the known status tokens.
func (s LeaveStatus) Valid() bool {
	for _, v := range LeaveStatuses {
		if s == v {
			return true
		}
	}
	return false
}

type LeaveRequest struct {
	ID              bson.ObjectID `bson:"_id,omitempty" json:"-"`
	RequestID       string        `bson:"request_id" json:"request_id"`
	UserID          string        `bson:"user_id" json:"user_id"`
	Username        string        `bson:"username" json:"username"`
	Reason          string        `bson:"reason" json:"reason"`
	Duration        int           `bson:"duration" json:"duration"`
	StartDate       string        `bson:"start_date" json:"start_date"` // YYYY-MM-DD
	EndDate         string        `bson:"end_date" json:"end_date"`     // YYYY-MM-DD
	Status          LeaveStatus   `bson:"status" json:"status"`
	RoleID          string        `bson:"role_id,omitempty" json:"role_id"`
	MessageID       string        `bson:"message_id,omitempty" json:"message_id"`
	ChannelID       string        `bson:"channel_id,omitempty" json:"channel_id"`
	CreatedAt       time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `bson:"updated_at" json:"updated_at"`
	ProcessedBy     string        `bson:"processed_by,omitempty" json:"processed_by"`
	ProcessedAt     *time.Time    `bson:"processed_at,omitempty" json:"processed_at"`
	RejectionReason string        `bson:"rejection_reason,omitempty" json:"rejection_reason"`
}

// Note is an admin remark attached to a leave request. Notes are never edited.
type Note struct {
	ID        bson.ObjectID `bson:"_id,omitempty" json:"-"`
	RequestID string        `bson:"request_id" json:"request_id"`
	AdminID   string        `bson:"admin_id" json:"admin_id"`
	AdminName string        `bson:"admin_name" json:"admin_name"`
	Text      string        `bson:"note" json:"note"`
	CreatedAt time.Time     `bson:"created_at" json:"created_at"`
}

type StatusHistoryEntry struct {
	ID        bson.ObjectID `bson:"_id,omitempty" json:"-"`
	RequestID string        `bson:"request_id" json:"request_id"`
	OldStatus LeaveStatus   `bson:"old_status" json:"old_status"`
	NewStatus LeaveStatus   `bson:"new_status" json:"new_status"`
	ChangedBy string        `bson:"changed_by" json:"changed_by"`
	ChangedAt time.Time     `bson:"changed_at" json:"changed_at"`
}

// StatusChange describes one conditional status update. The store applies it only
// while the request is still in From.
type StatusChange struct {
	RequestID       string
	From            LeaveStatus
	To              LeaveStatus
	ChangedBy       string
	RejectionReason string
	// RoleID, when set, is written together with the status. Empty keeps the
	// stored value.
	RoleID string
	At     time.Time
}

// RoleMapping ties a leave duration to the external privilege marker granted on approval.
type RoleMapping struct {
	Duration  int       `bson:"duration" json:"duration"`
	RoleID    string    `bson:"role_id" json:"role_id"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// SearchFilter is AND-ed; zero values mean no constraint. DateFrom/DateTo bound the start date.
type SearchFilter struct {
	RequestID string
	UserID    string
	Status    LeaveStatus
	DateFrom  string
	DateTo    string
	Limit     int
	Offset    int
}

// LeavePage is one page of a user's requests, newest first.
type LeavePage struct {
	Leaves      []*LeaveRequest
	Total       int
	Pages       int
	CurrentPage int
}

type RequesterCount struct {
	UserID   string `bson:"_id" json:"user_id"`
	Username string `bson:"username" json:"username"`
	Count    int    `bson:"count" json:"count"`
}

type Statistics struct {
	Total           int              `json:"total"`
	Approved        int              `json:"approved"`
	Rejected        int              `json:"rejected"`
	Pending         int              `json:"pending"`
	Cancelled       int              `json:"cancelled"`
	AverageDuration float64          `json:"average_duration"`
	TopRequesters   []RequesterCount `json:"top_requesters"`
}

const (
	SettingSystemLocked   = "system_locked"
	SettingLanguage       = "language"
	SettingRequestCounter = "request_counter"
	SettingPanelPostID    = "panel_post_id"
	SettingPanelChannelID = "panel_channel_id"
)
