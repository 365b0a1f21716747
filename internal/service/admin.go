package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"leave-bot/internal/export"
	"leave-bot/internal/i18n"
	"leave-bot/internal/leave"
	"leave-bot/internal/mattermost"
	"leave-bot/internal/model"
)

// searchLimit bounds how many matches one search reply lists.
const searchLimit = 10

// View is a rendered reply: markdown text plus optional attachments.
type View struct {
	Text        string
	Attachments []mattermost.Attachment
}

// DeployPanel posts the submission panel to the request channel, or to
// channelID when none is configured, and remembers it for later re-rendering.
func (s *LeaveService) DeployPanel(ctx context.Context, channelID string) (*mattermost.Post, error) {
	target := s.opts.RequestChannelID
	if target == "" {
		target = channelID
	}
	locked, err := s.engine.Settings().IsLocked(ctx)
	if err != nil {
		return nil, err
	}
	post, err := s.mm.CreatePost(ctx, &mattermost.Post{
		ChannelID: target,
		Props:     mattermost.Props{Attachments: []mattermost.Attachment{s.panelAttachment(ctx, locked)}},
	})
	if err != nil {
		return nil, fmt.Errorf("create panel post: %w", err)
	}
	if err := s.engine.Settings().SetPanelPost(ctx, post.ID, post.ChannelID); err != nil {
		return nil, fmt.Errorf("save panel post: %w", err)
	}
	s.logger.Info("panel deployed", zap.String("post_id", post.ID), zap.String("channel_id", post.ChannelID))
	return post, nil
}

// SetLocked flips the lock flag and re-renders the deployed panel.
func (s *LeaveService) SetLocked(ctx context.Context, locked bool) error {
	if err := s.engine.Settings().SetLocked(ctx, locked); err != nil {
		return err
	}
	s.logger.Info("system lock changed", zap.Bool("locked", locked))
	s.refreshPanel(ctx, locked)
	return nil
}

// SetLanguage stores the display language and returns ctx switched to it.
func (s *LeaveService) SetLanguage(ctx context.Context, code string) (context.Context, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if err := s.engine.Settings().SetLanguage(ctx, code); err != nil {
		return ctx, err
	}
	ctx = i18n.WithLocale(ctx, code)
	locked, err := s.engine.Settings().IsLocked(ctx)
	if err != nil {
		s.logger.Warn("read lock flag failed", zap.Error(err))
		return ctx, nil
	}
	s.refreshPanel(ctx, locked)
	return ctx, nil
}

func (s *LeaveService) refreshPanel(ctx context.Context, locked bool) {
	postID, channelID, err := s.engine.Settings().PanelPost(ctx)
	if err != nil {
		s.logger.Warn("read panel post failed", zap.Error(err))
		return
	}
	if postID == "" {
		return
	}
	if _, err := s.mm.UpdatePost(ctx, postID, &mattermost.Post{
		ChannelID: channelID,
		Props:     mattermost.Props{Attachments: []mattermost.Attachment{s.panelAttachment(ctx, locked)}},
	}); err != nil {
		s.logger.Warn("update panel failed", zap.String("post_id", postID), zap.Error(err))
	}
}

// LeaveDialog is the submission form.
func (s *LeaveService) LeaveDialog(ctx context.Context) mattermost.Dialog {
	return mattermost.Dialog{
		Title:       i18n.T(ctx, i18n.DialogLeaveTitle),
		CallbackID:  "leave-submit",
		SubmitLabel: i18n.T(ctx, i18n.DialogSubmit),
		Elements: []mattermost.DialogElement{
			{
				DisplayName: i18n.T(ctx, i18n.DialogLeaveReason),
				Name:        "reason",
				Type:        "textarea",
				Placeholder: i18n.T(ctx, i18n.DialogLeaveReasonHint),
				MaxLength:   1000,
			},
			{
				DisplayName: i18n.T(ctx, i18n.DialogLeaveDuration),
				Name:        "duration",
				Type:        "text",
				SubType:     "number",
				HelpText:    i18n.T(ctx, i18n.DialogLeaveDurationHint),
			},
			{
				DisplayName: i18n.T(ctx, i18n.DialogLeaveStartDate),
				Name:        "start_date",
				Type:        "text",
				Placeholder: i18n.T(ctx, i18n.DialogLeaveDateHint),
			},
			{
				DisplayName: i18n.T(ctx, i18n.DialogLeaveEndDate),
				Name:        "end_date",
				Type:        "text",
				Placeholder: i18n.T(ctx, i18n.DialogLeaveDateHint),
			},
		},
	}
}

// RejectDialog asks for an optional rejection reason. The request id rides in State.
func (s *LeaveService) RejectDialog(ctx context.Context, requestID string) mattermost.Dialog {
	return mattermost.Dialog{
		Title:       i18n.T(ctx, i18n.DialogRejectTitle),
		CallbackID:  "leave-reject",
		SubmitLabel: i18n.T(ctx, i18n.ButtonReject),
		State:       requestID,
		Elements: []mattermost.DialogElement{
			{
				DisplayName: i18n.T(ctx, i18n.DialogRejectReason),
				Name:        "reason",
				Type:        "textarea",
				HelpText:    i18n.T(ctx, i18n.DialogRejectReasonHint),
				Optional:    true,
				MaxLength:   1000,
			},
		},
	}
}

func (s *LeaveService) NoteDialog(ctx context.Context, requestID string) mattermost.Dialog {
	return mattermost.Dialog{
		Title:       i18n.T(ctx, i18n.DialogNoteTitle),
		CallbackID:  "leave-note",
		SubmitLabel: i18n.T(ctx, i18n.DialogSubmit),
		State:       requestID,
		Elements: []mattermost.DialogElement{
			{
				DisplayName: i18n.T(ctx, i18n.DialogNoteText),
				Name:        "note",
				Type:        "textarea",
				Placeholder: i18n.T(ctx, i18n.DialogNoteTextPlaceholder),
				MaxLength:   2000,
			},
		},
	}
}

// MyRequestsView renders one page of the member's requests with prev/next buttons.
func (s *LeaveService) MyRequestsView(ctx context.Context, userID string, page int) (*View, error) {
	p, err := s.engine.MyRequests(ctx, userID, page)
	if err != nil {
		return nil, err
	}
	if p.Total == 0 {
		return &View{Text: i18n.T(ctx, i18n.MyEmpty)}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "### %s\n\n", i18n.T(ctx, i18n.MyTitle))
	sb.WriteString(leaveTable(ctx, p.Leaves))
	sb.WriteString("\n")
	sb.WriteString(i18n.T(ctx, i18n.MyPage, map[string]any{
		"Page":  p.CurrentPage,
		"Pages": p.Pages,
		"Total": p.Total,
	}))

	v := &View{Text: sb.String()}
	var actions []mattermost.Action
	if p.CurrentPage > 1 {
		actions = append(actions, s.button(ctx, "prev", i18n.ButtonPrevious, "default", "/api/leave/page",
			map[string]any{"page": strconv.Itoa(p.CurrentPage - 1)}))
	}
	if p.CurrentPage < p.Pages {
		actions = append(actions, s.button(ctx, "next", i18n.ButtonNext, "default", "/api/leave/page",
			map[string]any{"page": strconv.Itoa(p.CurrentPage + 1)}))
	}
	if len(actions) > 0 {
		v.Attachments = []mattermost.Attachment{{Actions: actions}}
	}
	return v, nil
}

// SearchView parses key=value filters (id, user, status, from, to) and lists matches.
// user accepts a username with or without the leading @.
func (s *LeaveService) SearchView(ctx context.Context, args []string) (*View, error) {
	f := model.SearchFilter{Limit: searchLimit}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(key) {
		case "id":
			f.RequestID = strings.ToUpper(value)
		case "user":
			id, err := s.resolveUserID(ctx, strings.TrimPrefix(value, "@"))
			if err != nil {
				return nil, err
			}
			f.UserID = id
		case "status":
			f.Status = model.LeaveStatus(strings.ToLower(value))
		case "from":
			f.DateFrom = value
		case "to":
			f.DateTo = value
		}
	}

	leaves, err := s.engine.Search(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(leaves) == 0 {
		return &View{Text: i18n.T(ctx, i18n.SearchEmpty)}, nil
	}
	return &View{Text: fmt.Sprintf("### %s\n\n%s",
		i18n.T(ctx, i18n.SearchTitle, map[string]any{"Count": len(leaves)}),
		leaveTable(ctx, leaves),
	)}, nil
}

func (s *LeaveService) resolveUserID(ctx context.Context, username string) (string, error) {
	u, err := s.mm.GetUserByUsername(ctx, username)
	if mattermost.IsNotFound(err) {
		// An unknown name simply matches nothing.
		s.logger.Debug("search user not found", zap.String("username", username))
		return username, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve user %q: %w", username, err)
	}
	return u.ID, nil
}

// CheckChannels looks up every configured channel and reports the ones the
// bot cannot reach. Unset channels are skipped.
func (s *LeaveService) CheckChannels(ctx context.Context) error {
	channels := []struct{ name, id string }{
		{"request", s.opts.RequestChannelID},
		{"review", s.opts.ReviewChannelID},
		{"log", s.opts.LogChannelID},
		{"notification", s.opts.NotificationChannelID},
	}
	var errs []error
	for _, ch := range channels {
		if ch.id == "" {
			continue
		}
		info, err := s.mm.GetChannel(ctx, ch.id)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s channel %s: %w", ch.name, ch.id, err))
			continue
		}
		s.logger.Debug("channel reachable", zap.String("role", ch.name), zap.String("channel_id", info.ID), zap.String("name", info.Name))
	}
	return errors.Join(errs...)
}

// StatsView aggregates over all time, the last calendar month or the last 7 days.
func (s *LeaveService) StatsView(ctx context.Context, period string) (*View, error) {
	now := s.opts.Now()
	var from *time.Time
	label := i18n.StatsPeriodAll
	switch strings.ToLower(period) {
	case "month":
		t := now.AddDate(0, -1, 0)
		from, label = &t, i18n.StatsPeriodMonth
	case "week":
		t := now.AddDate(0, 0, -7)
		from, label = &t, i18n.StatsPeriodWeek
	}
	var to *time.Time
	if from != nil {
		to = &now
	}

	st, err := s.engine.Statistics(ctx, from, to)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "### %s\n\n", i18n.T(ctx, i18n.StatsTitle, map[string]any{"Period": i18n.T(ctx, label)}))
	fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s |\n",
		i18n.T(ctx, i18n.StatsTotal),
		i18n.T(ctx, i18n.StatusPending),
		i18n.T(ctx, i18n.StatusApproved),
		i18n.T(ctx, i18n.StatusRejected),
		i18n.T(ctx, i18n.StatusCancelled),
	)
	sb.WriteString("|:--|:--|:--|:--|:--|\n")
	fmt.Fprintf(&sb, "| %d | %d | %d | %d | %d |\n\n", st.Total, st.Pending, st.Approved, st.Rejected, st.Cancelled)
	sb.WriteString(i18n.T(ctx, i18n.StatsAverageDuration, map[string]any{
		"Days": strconv.FormatFloat(st.AverageDuration, 'f', 1, 64),
	}))
	fmt.Fprintf(&sb, "\n\n**%s**\n", i18n.T(ctx, i18n.StatsTopMembers))
	if len(st.TopRequesters) == 0 {
		sb.WriteString(i18n.T(ctx, i18n.StatsNoTopMembers))
	}
	for i, r := range st.TopRequesters {
		sb.WriteString(i18n.T(ctx, i18n.StatsTopMember, map[string]any{
			"Rank":     i + 1,
			"Username": r.Username,
			"Count":    r.Count,
		}))
		sb.WriteString("\n")
	}
	return &View{Text: strings.TrimRight(sb.String(), "\n")}, nil
}

// HistoryView shows status changes and admin notes for one request.
func (s *LeaveService) HistoryView(ctx context.Context, requestID string) (*View, error) {
	req, err := s.engine.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	history, err := s.engine.History(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}
	notes, err := s.engine.Notes(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "### %s\n\n", i18n.T(ctx, i18n.HistoryTitle, map[string]any{"RequestID": req.RequestID}))
	if len(history) == 0 {
		sb.WriteString(i18n.T(ctx, i18n.HistoryEmpty))
		sb.WriteString("\n")
	}
	for _, h := range history {
		sb.WriteString("- ")
		sb.WriteString(i18n.T(ctx, i18n.HistoryEntry, map[string]any{
			"At":   s.formatTime(h.ChangedAt),
			"From": statusLabel(ctx, h.OldStatus),
			"To":   statusLabel(ctx, h.NewStatus),
			"By":   s.username(ctx, h.ChangedBy),
		}))
		sb.WriteString("\n")
	}
	if len(notes) > 0 {
		fmt.Fprintf(&sb, "\n**%s**\n", i18n.T(ctx, i18n.HistoryNotes))
		for _, n := range notes {
			sb.WriteString("- ")
			sb.WriteString(i18n.T(ctx, i18n.HistoryNoteEntry, map[string]any{
				"At":    s.formatTime(n.CreatedAt),
				"Admin": n.AdminName,
				"Note":  n.Text,
			}))
			sb.WriteString("\n")
		}
	}
	return &View{
		Text:        strings.TrimRight(sb.String(), "\n"),
		Attachments: []mattermost.Attachment{{Color: statusColors[req.Status], Fields: requestFields(ctx, req)}},
	}, nil
}

// PendingView lists requests waiting for a decision, oldest first.
func (s *LeaveService) PendingView(ctx context.Context) (*View, error) {
	leaves, err := s.engine.Pending(ctx)
	if err != nil {
		return nil, err
	}
	if len(leaves) == 0 {
		return &View{Text: i18n.T(ctx, i18n.PendingEmpty)}, nil
	}
	return &View{Text: fmt.Sprintf("### %s\n\n%s",
		i18n.T(ctx, i18n.PendingTitle, map[string]any{"Count": len(leaves)}),
		leaveTable(ctx, leaves),
	)}, nil
}

// Export renders requests created in the optional range and sends the file to
// adminID by DM. It returns the number of exported requests; nothing is sent
// when there are none.
func (s *LeaveService) Export(ctx context.Context, adminID string, format export.Format, fromDate, toDate string) (int, error) {
	leaves, err := s.engine.Export(ctx, fromDate, toDate)
	if err != nil {
		return 0, err
	}
	if len(leaves) == 0 {
		return 0, nil
	}
	data, err := export.Render(format, leaves)
	if err != nil {
		return 0, fmt.Errorf("render export: %w", err)
	}
	msg := i18n.T(ctx, i18n.DMExport, map[string]any{"Format": strings.ToUpper(string(format)), "Count": len(leaves)})
	if err := s.mm.SendFileDM(ctx, adminID, msg, export.Filename(format, s.opts.Now()), data); err != nil {
		return 0, fmt.Errorf("send export: %w", err)
	}
	s.logger.Info("export sent",
		zap.String("admin_id", adminID),
		zap.String("format", string(format)),
		zap.Int("count", len(leaves)),
	)
	return len(leaves), nil
}

func (s *LeaveService) formatTime(t time.Time) string {
	return t.In(s.opts.Location).Format("2006-01-02 15:04")
}

// GroupDirectory backs leave roles with Mattermost custom groups.
type GroupDirectory struct {
	mm *mattermost.Client
}

func NewGroupDirectory(mm *mattermost.Client) *GroupDirectory {
	return &GroupDirectory{mm: mm}
}

func (d *GroupDirectory) EnsureRole(ctx context.Context, name, displayName string) (string, error) {
	return d.mm.EnsureGroup(ctx, name, displayName)
}

var _ leave.RoleDirectory = (*GroupDirectory)(nil)
