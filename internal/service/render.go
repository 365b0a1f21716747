package service

import (
	"context"
	"fmt"
	"strings"

	"leave-bot/internal/i18n"
	"leave-bot/internal/leave"
	"leave-bot/internal/mattermost"
	"leave-bot/internal/model"
)

var statusKeys = map[model.LeaveStatus]i18n.Key{
	model.LeaveStatusPending:   i18n.StatusPending,
	model.LeaveStatusApproved:  i18n.StatusApproved,
	model.LeaveStatusRejected:  i18n.StatusRejected,
	model.LeaveStatusCancelled: i18n.StatusCancelled,
}

var statusColors = map[model.LeaveStatus]string{
	model.LeaveStatusPending:   "#F5A623",
	model.LeaveStatusApproved:  "#2ECC71",
	model.LeaveStatusRejected:  "#E74C3C",
	model.LeaveStatusCancelled: "#95A5A6",
}

func statusLabel(ctx context.Context, st model.LeaveStatus) string {
	if key, ok := statusKeys[st]; ok {
		return i18n.T(ctx, key)
	}
	return string(st)
}

// button builds an action posting to path with the request id in its context.
func (s *LeaveService) button(ctx context.Context, id string, label i18n.Key, style, path string, payload map[string]any) mattermost.Action {
	return mattermost.Action{
		ID:    id,
		Name:  i18n.T(ctx, label),
		Type:  "button",
		Style: style,
		Integration: mattermost.Integration{
			URL:     s.opts.BotURL + path,
			Context: payload,
		},
	}
}

// reviewAttachment renders a request for the review channel. Pending requests get
// decision buttons; processed ones keep only the note button.
func (s *LeaveService) reviewAttachment(ctx context.Context, req *model.LeaveRequest, admin string) mattermost.Attachment {
	ref := map[string]any{"request_id": req.RequestID}

	a := mattermost.Attachment{
		Title:  i18n.T(ctx, i18n.ReviewTitle),
		Color:  statusColors[req.Status],
		Fields: requestFields(ctx, req),
	}
	switch req.Status {
	case model.LeaveStatusPending:
		a.Actions = []mattermost.Action{
			s.button(ctx, "approve", i18n.ButtonApprove, "success", "/api/leave/approve", ref),
			s.button(ctx, "reject", i18n.ButtonReject, "danger", "/api/leave/reject", ref),
			s.button(ctx, "note", i18n.ButtonAddNote, "default", "/api/leave/note", ref),
		}
	case model.LeaveStatusApproved:
		a.Footer = i18n.T(ctx, i18n.ReviewApproved, map[string]any{"Admin": admin})
	case model.LeaveStatusRejected:
		a.Footer = i18n.T(ctx, i18n.ReviewRejected, map[string]any{"Admin": admin})
	case model.LeaveStatusCancelled:
		a.Footer = i18n.T(ctx, i18n.ReviewCancelled, map[string]any{"Admin": admin})
	}
	if req.Status != model.LeaveStatusPending {
		a.Actions = []mattermost.Action{
			s.button(ctx, "note", i18n.ButtonAddNote, "default", "/api/leave/note", ref),
		}
	}
	return a
}

func requestFields(ctx context.Context, req *model.LeaveRequest) []mattermost.Field {
	fields := []mattermost.Field{
		{Title: i18n.T(ctx, i18n.FieldRequestID), Value: req.RequestID, Short: true},
		{Title: i18n.T(ctx, i18n.FieldApplicant), Value: "@" + req.Username, Short: true},
		{Title: i18n.T(ctx, i18n.FieldDuration), Value: i18n.T(ctx, i18n.FieldDays, map[string]any{"Count": req.Duration}), Short: true},
		{Title: i18n.T(ctx, i18n.FieldStatus), Value: statusLabel(ctx, req.Status), Short: true},
		{Title: i18n.T(ctx, i18n.FieldStartDate), Value: req.StartDate, Short: true},
		{Title: i18n.T(ctx, i18n.FieldEndDate), Value: req.EndDate, Short: true},
		{Title: i18n.T(ctx, i18n.FieldReason), Value: req.Reason},
	}
	if req.RejectionReason != "" {
		fields = append(fields, mattermost.Field{
			Title: i18n.T(ctx, i18n.FieldRejectionReason),
			Value: req.RejectionReason,
		})
	}
	return fields
}

// panelAttachment is the persistent submission panel, or its locked notice.
func (s *LeaveService) panelAttachment(ctx context.Context, locked bool) mattermost.Attachment {
	if locked {
		return mattermost.Attachment{
			Title: i18n.T(ctx, i18n.PanelLockedTitle),
			Text:  i18n.T(ctx, i18n.PanelLockedDescription),
			Color: statusColors[model.LeaveStatusRejected],
		}
	}
	return mattermost.Attachment{
		Title: i18n.T(ctx, i18n.PanelTitle),
		Text:  i18n.T(ctx, i18n.PanelDescription),
		Color: "#1E88E5",
		Actions: []mattermost.Action{
			s.button(ctx, "submit", i18n.ButtonSubmitLeave, "primary", "/api/leave/form", map[string]any{"action": "leave-form"}),
		},
	}
}

// leaveTable renders requests as a markdown table, the way the bot lists records
// in a channel.
func leaveTable(ctx context.Context, leaves []*model.LeaveRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s | %s |\n",
		i18n.T(ctx, i18n.FieldRequestID),
		i18n.T(ctx, i18n.FieldApplicant),
		i18n.T(ctx, i18n.FieldDuration),
		i18n.T(ctx, i18n.FieldStartDate),
		i18n.T(ctx, i18n.FieldEndDate),
		i18n.T(ctx, i18n.FieldStatus),
	)
	sb.WriteString("|:--|:--|:--|:--|:--|:--|\n")
	for _, l := range leaves {
		fmt.Fprintf(&sb, "| %s | @%s | %d | %s | %s | %s |\n",
			l.RequestID, l.Username, l.Duration, l.StartDate, l.EndDate, statusLabel(ctx, l.Status))
	}
	return sb.String()
}

var errorKeys = map[leave.Code]i18n.Key{
	leave.CodeSystemLocked:        i18n.ErrSystemLocked,
	leave.CodeRateLimitExceeded:   i18n.ErrRateLimitExceeded,
	leave.CodeEmptyReason:         i18n.ErrEmptyReason,
	leave.CodeInvalidDuration:     i18n.ErrInvalidDuration,
	leave.CodeInvalidDateFormat:   i18n.ErrInvalidDateFormat,
	leave.CodeStartDateInPast:     i18n.ErrStartDateInPast,
	leave.CodeEndBeforeStart:      i18n.ErrEndBeforeStart,
	leave.CodeDurationMismatch:    i18n.ErrDurationMismatch,
	leave.CodeOverlappingLeave:    i18n.ErrOverlappingLeave,
	leave.CodeMaxDurationExceeded: i18n.ErrMaxDurationExceeded,
	leave.CodeInvalidStatus:       i18n.ErrInvalidStatus,
	leave.CodeInvalidLanguage:     i18n.ErrInvalidLanguage,
	leave.CodeEmptyNote:           i18n.ErrEmptyNote,
	leave.CodeAlreadyProcessed:    i18n.ErrAlreadyProcessed,
	leave.CodeNotFound:            i18n.ErrNotFound,
}

// ErrorText renders err for the member. Anything that is not a domain error
// becomes the generic message.
func ErrorText(ctx context.Context, err error) string {
	de, ok := leave.AsError(err)
	if !ok {
		return i18n.T(ctx, i18n.MsgGenericError)
	}
	key, ok := errorKeys[de.Code]
	if !ok {
		return i18n.T(ctx, i18n.MsgGenericError)
	}
	data := make(map[string]any, len(de.Params))
	for k, v := range de.Params {
		data[k] = v
	}
	if de.Code == leave.CodeAlreadyProcessed {
		if st, ok := data["Status"].(string); ok {
			data["Status"] = statusLabel(ctx, model.LeaveStatus(st))
		}
	}
	return i18n.T(ctx, key, data)
}
