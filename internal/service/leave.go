package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"leave-bot/internal/i18n"
	"leave-bot/internal/leave"
	"leave-bot/internal/mattermost"
	"leave-bot/internal/model"
)

// Options holds the channels and policies the service delivers to.
type Options struct {
	BotURL                string
	RequestChannelID      string
	ReviewChannelID       string
	LogChannelID          string
	NotificationChannelID string
	NotificationMention   string
	AdminUserIDs          []string
	RejectedGroupID       string
	Location              *time.Location
	Now                   func() time.Time
}

// LeaveService turns engine results into Mattermost posts, DMs and group changes.
// Delivery failures are logged and never undo a committed change.
type LeaveService struct {
	engine *leave.Engine
	mm     *mattermost.Client
	opts   Options
	admins map[string]bool
	logger *zap.Logger
}

func NewLeaveService(engine *leave.Engine, mm *mattermost.Client, opts Options, logger ...*zap.Logger) *LeaveService {
	l := zap.L().Named("service.leave")
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0].Named("service.leave")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	admins := make(map[string]bool, len(opts.AdminUserIDs))
	for _, id := range opts.AdminUserIDs {
		admins[id] = true
	}
	return &LeaveService{engine: engine, mm: mm, opts: opts, admins: admins, logger: l}
}

// LeaveForm is the raw content of the submission dialog.
type LeaveForm struct {
	Reason    string
	Duration  string
	StartDate string
	EndDate   string
}

// Localize returns ctx carrying the configured display language.
func (s *LeaveService) Localize(ctx context.Context) context.Context {
	lang, err := s.engine.Settings().Language(ctx)
	if err != nil {
		s.logger.Warn("read language setting failed", zap.Error(err))
	}
	return i18n.WithLocale(ctx, lang)
}

// IsAdmin reports whether userID may run admin commands: listed in the admin
// ids or holding the system_admin role.
func (s *LeaveService) IsAdmin(ctx context.Context, userID string) bool {
	if s.admins[userID] {
		return true
	}
	u, err := s.mm.GetUser(ctx, userID)
	if err != nil {
		s.logger.Warn("admin check: get user failed", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	return u.HasRole("system_admin")
}

// CheckEligibility runs the lock and weekly-cap checks before the form opens.
func (s *LeaveService) CheckEligibility(ctx context.Context, userID string) error {
	return s.engine.CheckEligibility(ctx, userID)
}

// SubmitLeave validates and stores a request, then posts it for review.
func (s *LeaveService) SubmitLeave(ctx context.Context, userID string, form LeaveForm) (*model.LeaveRequest, error) {
	user, err := s.mm.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user info: %w", err)
	}

	req, err := s.engine.Submit(ctx, leave.SubmitInput{
		UserID:    userID,
		Username:  user.Username,
		Roles:     user.RoleList(),
		Reason:    form.Reason,
		Duration:  form.Duration,
		StartDate: form.StartDate,
		EndDate:   form.EndDate,
	})
	if err != nil {
		return nil, err
	}

	post, err := s.mm.CreatePost(ctx, &mattermost.Post{
		ChannelID: s.opts.ReviewChannelID,
		Props:     mattermost.Props{Attachments: []mattermost.Attachment{s.reviewAttachment(ctx, req, "")}},
	})
	if err != nil {
		s.logger.Warn("post review message failed", zap.String("request_id", req.RequestID), zap.Error(err))
	} else {
		if err := s.engine.AttachReviewMessage(ctx, req.RequestID, post.ID, post.ChannelID); err != nil {
			s.logger.Error("attach review message failed", zap.String("request_id", req.RequestID), zap.Error(err))
		}
		req.MessageID, req.ChannelID = post.ID, post.ChannelID
		s.notifyNewRequest(ctx, req)
	}

	s.logEvent(ctx, i18n.LogNewRequest, map[string]any{
		"RequestID": req.RequestID,
		"Username":  req.Username,
		"Duration":  req.Duration,
		"StartDate": req.StartDate,
		"EndDate":   req.EndDate,
	})
	return req, nil
}

// ResolveRequestID prefers the id carried by a button and falls back to the
// review post the button sits on.
func (s *LeaveService) ResolveRequestID(ctx context.Context, requestID, postID string) (string, error) {
	if requestID != "" {
		return requestID, nil
	}
	req, err := s.engine.GetByMessage(ctx, postID)
	if err != nil {
		return "", err
	}
	return req.RequestID, nil
}

func (s *LeaveService) Approve(ctx context.Context, requestID, adminID string) (*model.LeaveRequest, error) {
	req, err := s.engine.Approve(ctx, requestID, adminID)
	if err != nil {
		return nil, err
	}
	admin := s.username(ctx, adminID)
	s.refreshReviewPost(ctx, req, admin)
	s.logStatusChange(ctx, req, model.LeaveStatusPending, admin)

	if req.RoleID != "" {
		if err := s.mm.AddGroupMembers(ctx, req.RoleID, req.UserID); err != nil {
			s.logger.Warn("grant leave group failed",
				zap.String("request_id", req.RequestID),
				zap.String("group_id", req.RoleID),
				zap.Error(err),
			)
		} else {
			s.logEvent(ctx, i18n.LogRoleAssigned, map[string]any{
				"RequestID": req.RequestID,
				"Username":  req.Username,
				"Role":      leave.RoleName(req.Duration),
			})
		}
	}

	s.sendDM(ctx, req.UserID, i18n.T(ctx, i18n.DMApproved, map[string]any{
		"RequestID": req.RequestID,
		"StartDate": req.StartDate,
		"EndDate":   req.EndDate,
		"Admin":     admin,
	}))
	return req, nil
}

func (s *LeaveService) Reject(ctx context.Context, requestID, adminID, reason string) (*model.LeaveRequest, error) {
	req, err := s.engine.Reject(ctx, requestID, adminID, reason)
	if err != nil {
		return nil, err
	}
	admin := s.username(ctx, adminID)
	s.refreshReviewPost(ctx, req, admin)
	s.logStatusChange(ctx, req, model.LeaveStatusPending, admin)

	if s.opts.RejectedGroupID != "" {
		if err := s.mm.AddGroupMembers(ctx, s.opts.RejectedGroupID, req.UserID); err != nil {
			s.logger.Warn("add to rejected group failed", zap.String("request_id", req.RequestID), zap.Error(err))
		}
	}

	shown := req.RejectionReason
	if shown == "" {
		shown = "-"
	}
	s.sendDM(ctx, req.UserID, i18n.T(ctx, i18n.DMRejected, map[string]any{
		"RequestID": req.RequestID,
		"Admin":     admin,
		"Reason":    shown,
	}))
	return req, nil
}

// Cancel withdraws an approved leave and revokes its group membership.
func (s *LeaveService) Cancel(ctx context.Context, requestID, adminID string) (*model.LeaveRequest, error) {
	req, err := s.engine.Cancel(ctx, requestID, adminID)
	if err != nil {
		return nil, err
	}
	admin := s.username(ctx, adminID)
	s.refreshReviewPost(ctx, req, admin)
	s.logStatusChange(ctx, req, model.LeaveStatusApproved, admin)

	if req.RoleID != "" {
		if err := s.mm.RemoveGroupMembers(ctx, req.RoleID, req.UserID); err != nil {
			s.logger.Warn("revoke leave group failed",
				zap.String("request_id", req.RequestID),
				zap.String("group_id", req.RoleID),
				zap.Error(err),
			)
		} else {
			s.logEvent(ctx, i18n.LogRoleRemoved, map[string]any{
				"RequestID": req.RequestID,
				"Username":  req.Username,
				"Role":      leave.RoleName(req.Duration),
			})
		}
	}

	s.sendDM(ctx, req.UserID, i18n.T(ctx, i18n.DMCancelled, map[string]any{
		"RequestID": req.RequestID,
		"Admin":     admin,
	}))
	return req, nil
}

func (s *LeaveService) AddNote(ctx context.Context, requestID, adminID, text string) (*model.Note, error) {
	admin := s.username(ctx, adminID)
	note, err := s.engine.AddNote(ctx, requestID, adminID, admin, text)
	if err != nil {
		return nil, err
	}
	s.logEvent(ctx, i18n.LogNoteAdded, map[string]any{
		"RequestID": note.RequestID,
		"Admin":     admin,
		"Note":      note.Text,
	})
	return note, nil
}

// Remind DMs the member that their leave ends soon and records it in the log channel.
func (s *LeaveService) Remind(ctx context.Context, req *model.LeaveRequest) error {
	ctx = s.Localize(ctx)
	if err := s.mm.SendDM(ctx, req.UserID, i18n.T(ctx, i18n.DMReminder, map[string]any{
		"RequestID": req.RequestID,
		"EndDate":   req.EndDate,
	})); err != nil {
		return fmt.Errorf("send reminder: %w", err)
	}
	s.logEvent(ctx, i18n.LogReminderSent, map[string]any{
		"RequestID": req.RequestID,
		"Username":  req.Username,
		"EndDate":   req.EndDate,
	})
	return nil
}

// LeavesEndingSoon lists approved leaves ending within hours.
func (s *LeaveService) LeavesEndingSoon(ctx context.Context, hours int) ([]*model.LeaveRequest, error) {
	return s.engine.LeavesEndingSoon(ctx, hours)
}

func (s *LeaveService) notifyNewRequest(ctx context.Context, req *model.LeaveRequest) {
	if s.opts.NotificationChannelID == "" {
		return
	}
	msg := i18n.T(ctx, i18n.NotifyNewRequest, map[string]any{
		"Mention":   s.opts.NotificationMention,
		"RequestID": req.RequestID,
		"Username":  req.Username,
		"Link":      s.mm.Permalink(req.MessageID),
	})
	if _, err := s.mm.CreatePost(ctx, &mattermost.Post{
		ChannelID: s.opts.NotificationChannelID,
		Message:   strings.TrimSpace(msg),
	}); err != nil {
		s.logger.Warn("post notification failed", zap.String("request_id", req.RequestID), zap.Error(err))
	}
}

func (s *LeaveService) refreshReviewPost(ctx context.Context, req *model.LeaveRequest, admin string) {
	if req.MessageID == "" {
		return
	}
	if _, err := s.mm.UpdatePost(ctx, req.MessageID, &mattermost.Post{
		ChannelID: req.ChannelID,
		Props:     mattermost.Props{Attachments: []mattermost.Attachment{s.reviewAttachment(ctx, req, admin)}},
	}); err != nil {
		s.logger.Warn("update review message failed", zap.String("request_id", req.RequestID), zap.Error(err))
	}
}

func (s *LeaveService) logStatusChange(ctx context.Context, req *model.LeaveRequest, from model.LeaveStatus, admin string) {
	s.logEvent(ctx, i18n.LogStatusChanged, map[string]any{
		"RequestID": req.RequestID,
		"From":      statusLabel(ctx, from),
		"To":        statusLabel(ctx, req.Status),
		"Admin":     admin,
	})
}

func (s *LeaveService) logEvent(ctx context.Context, key i18n.Key, data map[string]any) {
	if s.opts.LogChannelID == "" {
		return
	}
	if _, err := s.mm.CreatePost(ctx, &mattermost.Post{
		ChannelID: s.opts.LogChannelID,
		Message:   i18n.T(ctx, key, data),
	}); err != nil {
		s.logger.Warn("post log entry failed", zap.String("event", string(key)), zap.Error(err))
	}
}

func (s *LeaveService) sendDM(ctx context.Context, userID, message string) {
	if err := s.mm.SendDM(ctx, userID, message); err != nil {
		s.logger.Warn("send dm failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// username resolves a display handle, falling back to the id.
func (s *LeaveService) username(ctx context.Context, userID string) string {
	u, err := s.mm.GetUser(ctx, userID)
	if err != nil || u.Username == "" {
		s.logger.Debug("get user failed, using id", zap.String("user_id", userID), zap.Error(err))
		return userID
	}
	return u.Username
}
