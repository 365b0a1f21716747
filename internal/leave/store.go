package leave

import (
	"context"
	"fmt"
	"strings"
	"time"

	"leave-bot/internal/model"
)

// SettingsStore is the key/value part of the store.
type SettingsStore interface {
	// GetSetting reports ok=false when the key was never written.
	GetSetting(ctx context.Context, key string) (value string, ok bool, err error)
	SetSetting(ctx context.Context, key, value string) error
}

// RoleStore persists the duration to role mapping.
type RoleStore interface {
	// RoleMapping returns nil when no role was recorded for duration.
	RoleMapping(ctx context.Context, duration int) (*model.RoleMapping, error)
	SaveRoleMapping(ctx context.Context, m *model.RoleMapping) error
}

// Store is everything the engine needs from persistence. Read-by-id methods
// return (nil, nil) when nothing matches.
type Store interface {
	SettingsStore
	RoleStore

	// CreateLeaveRequest assigns a fresh RequestID from the persisted counter and
	// inserts the request as pending. Allocation and insert are atomic per call.
	CreateLeaveRequest(ctx context.Context, req *model.LeaveRequest) error
	GetLeaveRequest(ctx context.Context, requestID string) (*model.LeaveRequest, error)
	GetLeaveRequestByMessage(ctx context.Context, messageID string) (*model.LeaveRequest, error)
	UpdateLeaveMessage(ctx context.Context, requestID, messageID, channelID string) error
	// UpdateLeaveStatus applies change only while the request is still in
	// change.From and appends a history entry. It returns nil when the
	// request is missing or no longer in change.From.
	UpdateLeaveStatus(ctx context.Context, change model.StatusChange) (*model.LeaveRequest, error)

	FindOverlappingApproved(ctx context.Context, userID string, r DateRange) (*model.LeaveRequest, error)
	CountRequestsSince(ctx context.Context, userID string, since time.Time) (int, error)
	UserLeaves(ctx context.Context, userID string, page, perPage int) (*model.LeavePage, error)
	PendingLeaves(ctx context.Context) ([]*model.LeaveRequest, error)
	ApprovedEndingBetween(ctx context.Context, from, to string) ([]*model.LeaveRequest, error)

	AddNote(ctx context.Context, note *model.Note) error
	Notes(ctx context.Context, requestID string) ([]*model.Note, error)
	StatusHistory(ctx context.Context, requestID string) ([]*model.StatusHistoryEntry, error)

	Search(ctx context.Context, f model.SearchFilter) ([]*model.LeaveRequest, error)
	// ListLeaves and Statistics bound created_at when from/to are non-nil.
	ListLeaves(ctx context.Context, from, to *time.Time) ([]*model.LeaveRequest, error)
	Statistics(ctx context.Context, from, to *time.Time) (*model.Statistics, error)
}

// FormatRequestID renders the n-th request id, e.g. PL-0007. Ids are always
// upper case so commands can normalize what admins type.
func FormatRequestID(prefix string, n int64) string {
	return fmt.Sprintf("%s-%04d", strings.ToUpper(prefix), n)
}
