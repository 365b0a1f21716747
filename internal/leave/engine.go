package leave

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"leave-bot/internal/model"
)

const (
	DefaultWeeklyCap = 2
	rateLimitWindow  = 7 * 24 * time.Hour

	MyRequestsPerPage = 5
)

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	WeeklyCap  int
	RoleLimits map[string]int // role -> max days
	Location   *time.Location // used for "today"
	Now        func() time.Time
}

// Engine owns validation and status transitions for leave requests.
type Engine struct {
	store      Store
	settings   *Settings
	roles      *Roles
	weeklyCap  int
	roleLimits map[string]int
	loc        *time.Location
	now        func() time.Time
	logger     *zap.Logger
}

func NewEngine(store Store, settings *Settings, roles *Roles, opts Options, logger ...*zap.Logger) *Engine {
	l := zap.L().Named("leave.engine")
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0].Named("leave.engine")
	}
	e := &Engine{
		store:      store,
		settings:   settings,
		roles:      roles,
		weeklyCap:  opts.WeeklyCap,
		roleLimits: opts.RoleLimits,
		loc:        opts.Location,
		now:        opts.Now,
		logger:     l,
	}
	if e.weeklyCap <= 0 {
		e.weeklyCap = DefaultWeeklyCap
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

func (e *Engine) Settings() *Settings { return e.settings }

// WeeklyCap is the number of requests a member may create in any 7-day window.
func (e *Engine) WeeklyCap() int { return e.weeklyCap }

// SubmitInput is the raw form content; Duration and dates are unparsed text.
type SubmitInput struct {
	UserID    string
	Username  string
	Roles     []string
	Reason    string
	Duration  string
	StartDate string
	EndDate   string
}

// CheckEligibility runs the lock and rate-limit checks only. It is used before
// showing the submission form.
func (e *Engine) CheckEligibility(ctx context.Context, userID string) error {
	locked, err := e.settings.IsLocked(ctx)
	if err != nil {
		return err
	}
	if locked {
		return ErrSystemLocked
	}

	since := e.now().Add(-rateLimitWindow)
	count, err := e.store.CountRequestsSince(ctx, userID, since)
	if err != nil {
		return fmt.Errorf("count recent requests: %w", err)
	}
	if count >= e.weeklyCap {
		return ErrRateLimitExceeded.With(map[string]any{"MaxRequests": e.weeklyCap})
	}
	return nil
}

// Submit validates in and creates a pending request. Checks short-circuit in a
// fixed order so members always see the same error for the same input.
func (e *Engine) Submit(ctx context.Context, in SubmitInput) (*model.LeaveRequest, error) {
	e.logger.Debug("submit leave requested",
		zap.String("user_id", in.UserID),
		zap.String("start_date", in.StartDate),
		zap.String("end_date", in.EndDate),
		zap.String("duration", in.Duration),
	)

	if err := e.CheckEligibility(ctx, in.UserID); err != nil {
		return nil, err
	}

	duration, err := strconv.Atoi(strings.TrimSpace(in.Duration))
	if err != nil || duration <= 0 {
		return nil, ErrInvalidDuration
	}

	startRaw := strings.TrimSpace(in.StartDate)
	endRaw := strings.TrimSpace(in.EndDate)
	if !dateFormat.MatchString(startRaw) || !dateFormat.MatchString(endRaw) {
		return nil, ErrInvalidDateFormat
	}
	start, err := parseCalendarDate(startRaw)
	if err != nil {
		return nil, err
	}
	end, err := parseCalendarDate(endRaw)
	if err != nil {
		return nil, err
	}

	if startRaw < e.today() {
		return nil, ErrStartDateInPast
	}
	if end.Before(start) {
		return nil, ErrEndBeforeStart
	}

	actual := InclusiveDays(start, end)
	if duration != actual {
		return nil, ErrDurationMismatch.With(map[string]any{"Calculated": actual})
	}

	requested := DateRange{Start: startRaw, End: endRaw}
	overlap, err := e.store.FindOverlappingApproved(ctx, in.UserID, requested)
	if err != nil {
		e.logger.Error("submit leave overlap check failed", zap.Error(err))
		return nil, fmt.Errorf("check overlap: %w", err)
	}
	if overlap != nil {
		e.logger.Warn("submit leave overlap detected",
			zap.String("user_id", in.UserID),
			zap.String("conflict", overlap.RequestID),
		)
		return nil, ErrOverlappingLeave.With(map[string]any{
			"RequestID": overlap.RequestID,
			"StartDate": overlap.StartDate,
			"EndDate":   overlap.EndDate,
		})
	}

	if limit, ok := e.maxDuration(in.Roles); ok && duration > limit {
		return nil, ErrMaxDurationExceeded.With(map[string]any{"MaxDays": limit})
	}

	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, ErrEmptyReason
	}

	req := &model.LeaveRequest{
		UserID:    in.UserID,
		Username:  in.Username,
		Reason:    reason,
		Duration:  duration,
		StartDate: startRaw,
		EndDate:   endRaw,
		Status:    model.LeaveStatusPending,
	}
	if err := e.store.CreateLeaveRequest(ctx, req); err != nil {
		e.logger.Error("submit leave persist failed", zap.Error(err))
		return nil, fmt.Errorf("create leave request: %w", err)
	}
	e.logger.Info("submit leave success",
		zap.String("request_id", req.RequestID),
		zap.String("user_id", req.UserID),
	)
	return req, nil
}

// maxDuration returns the highest cap among the roles the member holds.
func (e *Engine) maxDuration(roles []string) (int, bool) {
	limit, found := 0, false
	for _, r := range roles {
		if v, ok := e.roleLimits[r]; ok && (!found || v > limit) {
			limit, found = v, true
		}
	}
	return limit, found
}

// AttachReviewMessage records where the review post for requestID lives.
func (e *Engine) AttachReviewMessage(ctx context.Context, requestID, messageID, channelID string) error {
	req, err := e.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if err := e.store.UpdateLeaveMessage(ctx, req.RequestID, messageID, channelID); err != nil {
		return fmt.Errorf("update leave message: %w", err)
	}
	return nil
}

// Get returns the request or ErrNotFound.
func (e *Engine) Get(ctx context.Context, requestID string) (*model.LeaveRequest, error) {
	req, err := e.store.GetLeaveRequest(ctx, strings.TrimSpace(requestID))
	if err != nil {
		return nil, fmt.Errorf("get leave request: %w", err)
	}
	if req == nil {
		return nil, ErrNotFound.With(map[string]any{"RequestID": requestID})
	}
	return req, nil
}

// GetByMessage resolves a request from its review post.
func (e *Engine) GetByMessage(ctx context.Context, messageID string) (*model.LeaveRequest, error) {
	req, err := e.store.GetLeaveRequestByMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("get leave request by message: %w", err)
	}
	if req == nil {
		return nil, ErrNotFound
	}
	return req, nil
}

// IsLegalTransition reports whether a request in from may move to to.
func IsLegalTransition(from, to model.LeaveStatus) bool {
	switch from {
	case model.LeaveStatusPending:
		return to == model.LeaveStatusApproved || to == model.LeaveStatusRejected
	case model.LeaveStatusApproved:
		return to == model.LeaveStatusCancelled
	default:
		return false
	}
}

// Transition moves requestID to status to on behalf of actorID.
func (e *Engine) Transition(ctx context.Context, requestID string, to model.LeaveStatus, actorID, rejectionReason string) (*model.LeaveRequest, error) {
	e.logger.Debug("transition leave requested",
		zap.String("request_id", requestID),
		zap.String("actor_id", actorID),
		zap.String("to_status", string(to)),
	)

	req, err := e.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !IsLegalTransition(req.Status, to) {
		e.logger.Warn("transition leave invalid",
			zap.String("request_id", req.RequestID),
			zap.String("from_status", string(req.Status)),
			zap.String("to_status", string(to)),
		)
		return nil, ErrAlreadyProcessed.With(map[string]any{"Status": string(req.Status)})
	}

	var roleID string
	if to == model.LeaveStatusApproved && e.roles != nil {
		roleID, err = e.roles.RoleFor(ctx, req.Duration)
		if err != nil {
			e.logger.Error("transition leave role lookup failed", zap.Error(err))
			return nil, err
		}
	}

	change := model.StatusChange{
		RequestID: req.RequestID,
		From:      req.Status,
		To:        to,
		ChangedBy: actorID,
		RoleID:    roleID,
		At:        e.now().UTC(),
	}
	if to == model.LeaveStatusRejected {
		change.RejectionReason = strings.TrimSpace(rejectionReason)
	}

	updated, err := e.store.UpdateLeaveStatus(ctx, change)
	if err != nil {
		e.logger.Error("transition leave persist failed", zap.String("request_id", req.RequestID), zap.Error(err))
		return nil, fmt.Errorf("update leave status: %w", err)
	}
	if updated == nil {
		// Someone else processed it between our read and write.
		return nil, ErrAlreadyProcessed.With(map[string]any{"Status": string(req.Status)})
	}

	e.logger.Info("transition leave success",
		zap.String("request_id", updated.RequestID),
		zap.String("from_status", string(change.From)),
		zap.String("to_status", string(to)),
	)
	return updated, nil
}

func (e *Engine) Approve(ctx context.Context, requestID, actorID string) (*model.LeaveRequest, error) {
	return e.Transition(ctx, requestID, model.LeaveStatusApproved, actorID, "")
}

func (e *Engine) Reject(ctx context.Context, requestID, actorID, reason string) (*model.LeaveRequest, error) {
	return e.Transition(ctx, requestID, model.LeaveStatusRejected, actorID, reason)
}

// Cancel withdraws an approved leave. The role id stays on the record; revoking
// the external role is the caller's job.
func (e *Engine) Cancel(ctx context.Context, requestID, actorID string) (*model.LeaveRequest, error) {
	return e.Transition(ctx, requestID, model.LeaveStatusCancelled, actorID, "")
}

// AddNote appends an admin note to an existing request.
func (e *Engine) AddNote(ctx context.Context, requestID, adminID, adminName, text string) (*model.Note, error) {
	req, err := e.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyNote
	}
	note := &model.Note{
		RequestID: req.RequestID,
		AdminID:   adminID,
		AdminName: adminName,
		Text:      text,
		CreatedAt: e.now().UTC(),
	}
	if err := e.store.AddNote(ctx, note); err != nil {
		return nil, fmt.Errorf("add note: %w", err)
	}
	return note, nil
}

func (e *Engine) Notes(ctx context.Context, requestID string) ([]*model.Note, error) {
	req, err := e.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return e.store.Notes(ctx, req.RequestID)
}

func (e *Engine) History(ctx context.Context, requestID string) ([]*model.StatusHistoryEntry, error) {
	req, err := e.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return e.store.StatusHistory(ctx, req.RequestID)
}

// Search validates f and returns matching requests, newest first. A zero Limit
// returns every match.
func (e *Engine) Search(ctx context.Context, f model.SearchFilter) ([]*model.LeaveRequest, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, ErrInvalidStatus.With(map[string]any{"Status": string(f.Status)})
	}
	for _, d := range []string{f.DateFrom, f.DateTo} {
		if d == "" {
			continue
		}
		if _, err := ParseDate(d); err != nil {
			return nil, err
		}
	}
	if f.Limit < 0 {
		f.Limit = 0
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return e.store.Search(ctx, f)
}

// MyRequests returns one page of userID's requests. Out-of-range pages are clamped.
func (e *Engine) MyRequests(ctx context.Context, userID string, page int) (*model.LeavePage, error) {
	if page < 1 {
		page = 1
	}
	p, err := e.store.UserLeaves(ctx, userID, page, MyRequestsPerPage)
	if err != nil {
		return nil, fmt.Errorf("user leaves: %w", err)
	}
	if p.Pages > 0 && page > p.Pages {
		return e.store.UserLeaves(ctx, userID, p.Pages, MyRequestsPerPage)
	}
	return p, nil
}

func (e *Engine) Pending(ctx context.Context) ([]*model.LeaveRequest, error) {
	return e.store.PendingLeaves(ctx)
}

// Statistics aggregates requests created within [from, to]; nil bounds are open.
func (e *Engine) Statistics(ctx context.Context, from, to *time.Time) (*model.Statistics, error) {
	st, err := e.store.Statistics(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("statistics: %w", err)
	}
	st.AverageDuration = math.Round(st.AverageDuration*10) / 10
	return st, nil
}

// Export returns every request created within the optional YYYY-MM-DD bounds,
// both days included.
func (e *Engine) Export(ctx context.Context, fromDate, toDate string) ([]*model.LeaveRequest, error) {
	var from, to *time.Time
	if fromDate != "" {
		d, err := ParseDate(fromDate)
		if err != nil {
			return nil, err
		}
		t := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, e.loc)
		from = &t
	}
	if toDate != "" {
		d, err := ParseDate(toDate)
		if err != nil {
			return nil, err
		}
		t := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, e.loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
		to = &t
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, ErrEndBeforeStart
	}
	return e.store.ListLeaves(ctx, from, to)
}

// LeavesEndingSoon lists approved leaves whose end date falls between today and
// the date hours from now.
func (e *Engine) LeavesEndingSoon(ctx context.Context, hours int) ([]*model.LeaveRequest, error) {
	now := e.now().In(e.loc)
	from := now.Format(time.DateOnly)
	to := now.Add(time.Duration(hours) * time.Hour).Format(time.DateOnly)
	return e.store.ApprovedEndingBetween(ctx, from, to)
}

func (e *Engine) today() string {
	return e.now().In(e.loc).Format(time.DateOnly)
}

// AsError unwraps err into a domain error when it is one.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
