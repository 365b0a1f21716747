package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leave-bot/internal/leave"
	"leave-bot/internal/model"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New(":memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newLeave(userID, start, end string, days int) *model.LeaveRequest {
	return &model.LeaveRequest{
		UserID:    userID,
		Username:  "name-" + userID,
		Reason:    "reason",
		Duration:  days,
		StartDate: start,
		EndDate:   end,
	}
}

func TestStore_Defaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, ok, err := s.GetSetting(ctx, model.SettingSystemLocked)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "false", v)

	v, ok, err = s.GetSetting(ctx, model.SettingRequestCounter)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "0", v)

	_, ok, err = s.GetSetting(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_CounterSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leaves.db")
	ctx := context.Background()

	s, err := New(path, WithRequestPrefix("LV"))
	require.NoError(t, err)
	first := newLeave("u1", "2025-01-01", "2025-01-01", 1)
	require.NoError(t, s.CreateLeaveRequest(ctx, first))
	assert.Equal(t, "LV-0001", first.RequestID)
	require.NoError(t, s.Close())

	s, err = New(path, WithRequestPrefix("LV"))
	require.NoError(t, err)
	defer s.Close()
	second := newLeave("u1", "2025-01-02", "2025-01-02", 1)
	require.NoError(t, s.CreateLeaveRequest(ctx, second))
	assert.Equal(t, "LV-0002", second.RequestID)

	got, err := s.GetLeaveRequest(ctx, "LV-0001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.LeaveStatusPending, got.Status)
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetLeaveRequest(ctx, "PL-0404")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.GetLeaveRequestByMessage(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, got)

	m, err := s.RoleMapping(ctx, 3)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestStore_UpdateLeaveStatusIsConditional(t *testing.T) {
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	s := newTestStore(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	req := newLeave("u1", "2025-01-10", "2025-01-11", 2)
	require.NoError(t, s.CreateLeaveRequest(ctx, req))

	change := model.StatusChange{
		RequestID:       req.RequestID,
		From:            model.LeaveStatusPending,
		To:              model.LeaveStatusRejected,
		ChangedBy:       "admin",
		RejectionReason: "busy",
		At:              now,
	}
	updated, err := s.UpdateLeaveStatus(ctx, change)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, model.LeaveStatusRejected, updated.Status)
	assert.Equal(t, "busy", updated.RejectionReason)
	require.NotNil(t, updated.ProcessedAt)
	assert.True(t, now.Equal(*updated.ProcessedAt))

	// Second writer loses: the row is no longer pending.
	change.To = model.LeaveStatusApproved
	again, err := s.UpdateLeaveStatus(ctx, change)
	require.NoError(t, err)
	assert.Nil(t, again)

	missing, err := s.UpdateLeaveStatus(ctx, model.StatusChange{RequestID: "PL-9999", From: model.LeaveStatusPending, To: model.LeaveStatusApproved})
	require.NoError(t, err)
	assert.Nil(t, missing)

	history, err := s.StatusHistory(ctx, req.RequestID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.LeaveStatusRejected, history[0].NewStatus)
}

func TestStore_FindOverlappingApproved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req := newLeave("u1", "2025-01-10", "2025-01-12", 3)
	require.NoError(t, s.CreateLeaveRequest(ctx, req))

	r := leave.DateRange{Start: "2025-01-11", End: "2025-01-20"}
	got, err := s.FindOverlappingApproved(ctx, "u1", r)
	require.NoError(t, err)
	assert.Nil(t, got, "pending requests never block")

	_, err = s.UpdateLeaveStatus(ctx, model.StatusChange{
		RequestID: req.RequestID, From: model.LeaveStatusPending, To: model.LeaveStatusApproved, ChangedBy: "admin", At: time.Now(),
	})
	require.NoError(t, err)

	got, err = s.FindOverlappingApproved(ctx, "u1", r)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, req.RequestID, got.RequestID)

	got, err = s.FindOverlappingApproved(ctx, "u2", r)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.FindOverlappingApproved(ctx, "u1", leave.DateRange{Start: "2025-01-13", End: "2025-01-13"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_RoleMappingUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRoleMapping(ctx, &model.RoleMapping{Duration: 2, RoleID: "g1", CreatedAt: time.Now()}))
	require.NoError(t, s.SaveRoleMapping(ctx, &model.RoleMapping{Duration: 2, RoleID: "g2", CreatedAt: time.Now()}))

	m, err := s.RoleMapping(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "g2", m.RoleID)
}

func TestStore_LeaveRoleAndMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req := newLeave("u1", "2025-01-10", "2025-01-12", 3)
	require.NoError(t, s.CreateLeaveRequest(ctx, req))
	require.NoError(t, s.UpdateLeaveMessage(ctx, req.RequestID, "post-9", "chan-9"))

	approved, err := s.UpdateLeaveStatus(ctx, model.StatusChange{
		RequestID: req.RequestID, From: model.LeaveStatusPending, To: model.LeaveStatusApproved,
		ChangedBy: "admin", RoleID: "group-3", At: time.Now(),
	})
	require.NoError(t, err)
	require.NotNil(t, approved)
	assert.Equal(t, "group-3", approved.RoleID)

	// Cancelling without a role keeps the one granted on approval.
	cancelled, err := s.UpdateLeaveStatus(ctx, model.StatusChange{
		RequestID: req.RequestID, From: model.LeaveStatusApproved, To: model.LeaveStatusCancelled,
		ChangedBy: "admin", At: time.Now(),
	})
	require.NoError(t, err)
	require.NotNil(t, cancelled)
	assert.Equal(t, "group-3", cancelled.RoleID)

	got, err := s.GetLeaveRequestByMessage(ctx, "post-9")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "chan-9", got.ChannelID)
	assert.Equal(t, "group-3", got.RoleID)
}

func TestStore_LostStatusRaceKeepsRole(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req := newLeave("u1", "2025-01-10", "2025-01-12", 3)
	require.NoError(t, s.CreateLeaveRequest(ctx, req))
	_, err := s.UpdateLeaveStatus(ctx, model.StatusChange{
		RequestID: req.RequestID, From: model.LeaveStatusPending, To: model.LeaveStatusRejected, ChangedBy: "admin", At: time.Now(),
	})
	require.NoError(t, err)

	lost, err := s.UpdateLeaveStatus(ctx, model.StatusChange{
		RequestID: req.RequestID, From: model.LeaveStatusPending, To: model.LeaveStatusApproved,
		ChangedBy: "admin2", RoleID: "group-3", At: time.Now(),
	})
	require.NoError(t, err)
	assert.Nil(t, lost)

	got, err := s.GetLeaveRequest(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Empty(t, got.RoleID)
}
