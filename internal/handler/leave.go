package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"leave-bot/internal/i18n"
	"leave-bot/internal/leave"
	"leave-bot/internal/mattermost"
	"leave-bot/internal/service"
)

type LeaveHandler struct {
	svc          *service.LeaveService
	mm           *mattermost.Client
	botURL       string
	commandToken string
	logger       *zap.Logger
}

func NewLeaveHandler(svc *service.LeaveService, mm *mattermost.Client, botURL, commandToken string, logger ...*zap.Logger) *LeaveHandler {
	l := zap.L().Named("handler.leave")
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0].Named("handler.leave")
	}
	return &LeaveHandler{svc: svc, mm: mm, botURL: botURL, commandToken: commandToken, logger: l}
}

// RegisterRoutes registers all leave routes on the given mux.
func (h *LeaveHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/leave", h.HandleSlashCommand)

	// Submission
	mux.HandleFunc("POST /api/leave/form", h.HandleForm)
	mux.HandleFunc("POST /api/leave/submit", h.HandleSubmit)

	// Review
	mux.HandleFunc("POST /api/leave/approve", h.HandleApprove)
	mux.HandleFunc("POST /api/leave/reject", h.HandleReject)
	mux.HandleFunc("POST /api/leave/reject-submit", h.HandleRejectSubmit)
	mux.HandleFunc("POST /api/leave/note", h.HandleNote)
	mux.HandleFunc("POST /api/leave/note-submit", h.HandleNoteSubmit)

	// My requests pagination
	mux.HandleFunc("POST /api/leave/page", h.HandlePage)
}

// errorText localizes err for the reply. Validation errors are the member's
// own input and are not logged.
func (h *LeaveHandler) errorText(ctx context.Context, op string, err error) string {
	de, ok := leave.AsError(err)
	switch {
	case !ok:
		h.logger.Error(op+" failed", zap.Error(err))
	case de.Kind == leave.KindTransition:
		h.logger.Info(op+" refused", zap.String("code", string(de.Code)), zap.Error(err))
	case de.Kind == leave.KindNotFound:
		h.logger.Debug(op+" target not found", zap.Error(err))
	}
	return service.ErrorText(ctx, err)
}

func (h *LeaveHandler) decodeAction(w http.ResponseWriter, r *http.Request) (*ActionRequest, bool) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}

func (h *LeaveHandler) decodeDialog(w http.ResponseWriter, r *http.Request) (*DialogSubmission, bool) {
	var sub DialogSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, false
	}
	if sub.Cancelled {
		w.WriteHeader(http.StatusOK)
		return nil, false
	}
	return &sub, true
}

// HandleForm checks eligibility and opens the leave dialog.
func (h *LeaveHandler) HandleForm(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAction(w, r)
	if !ok {
		return
	}
	ctx := h.svc.Localize(r.Context())

	if err := h.svc.CheckEligibility(ctx, req.UserID); err != nil {
		writeJSON(w, ActionResponse{EphemeralText: h.errorText(ctx, "eligibility check", err)})
		return
	}

	err := h.mm.OpenDialog(ctx, &mattermost.DialogRequest{
		TriggerID: req.TriggerID,
		URL:       h.botURL + "/api/leave/submit",
		Dialog:    h.svc.LeaveDialog(ctx),
	})
	if err != nil {
		h.logger.Error("open leave dialog failed", zap.String("user_id", req.UserID), zap.Error(err))
		writeJSON(w, ActionResponse{EphemeralText: i18n.T(ctx, i18n.MsgGenericError)})
		return
	}
	writeJSON(w, ActionResponse{})
}

var submitFieldErrors = map[leave.Code]string{
	leave.CodeEmptyReason:         "reason",
	leave.CodeInvalidDuration:     "duration",
	leave.CodeDurationMismatch:    "duration",
	leave.CodeMaxDurationExceeded: "duration",
	leave.CodeInvalidDateFormat:   "start_date",
	leave.CodeStartDateInPast:     "start_date",
	leave.CodeEndBeforeStart:      "end_date",
}

// HandleSubmit processes the leave dialog submission.
func (h *LeaveHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.decodeDialog(w, r)
	if !ok {
		return
	}
	ctx := h.svc.Localize(r.Context())

	req, err := h.svc.SubmitLeave(ctx, sub.UserID, service.LeaveForm{
		Reason:    sub.Submission["reason"],
		Duration:  sub.Submission["duration"],
		StartDate: sub.Submission["start_date"],
		EndDate:   sub.Submission["end_date"],
	})
	if err != nil {
		text := h.errorText(ctx, "submit leave", err)
		if de, ok := leave.AsError(err); ok {
			if field, ok := submitFieldErrors[de.Code]; ok {
				writeJSON(w, DialogResponse{Errors: map[string]string{field: text}})
				return
			}
		}
		writeJSON(w, DialogResponse{Error: text})
		return
	}

	h.confirm(ctx, sub.UserID, sub.ChannelID, i18n.T(ctx, i18n.MsgRequestSubmitted, map[string]any{"RequestID": req.RequestID}))
	w.WriteHeader(http.StatusOK)
}

// requireAdmin answers the action with a permission error for non-admins.
func (h *LeaveHandler) requireAdmin(ctx context.Context, w http.ResponseWriter, userID string) bool {
	if h.svc.IsAdmin(ctx, userID) {
		return true
	}
	h.logger.Warn("admin action denied", zap.String("user_id", userID))
	writeJSON(w, ActionResponse{EphemeralText: i18n.T(ctx, i18n.MsgNoPermission)})
	return false
}

func (h *LeaveHandler) resolve(ctx context.Context, w http.ResponseWriter, req *ActionRequest) (string, bool) {
	id, err := h.svc.ResolveRequestID(ctx, req.ContextString("request_id"), req.PostID)
	if err != nil {
		writeJSON(w, ActionResponse{EphemeralText: h.errorText(ctx, "resolve request", err)})
		return "", false
	}
	return id, true
}

// HandleApprove approves the request behind the review post.
func (h *LeaveHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAction(w, r)
	if !ok {
		return
	}
	ctx := h.svc.Localize(r.Context())
	if !h.requireAdmin(ctx, w, req.UserID) {
		return
	}
	requestID, ok := h.resolve(ctx, w, req)
	if !ok {
		return
	}

	if _, err := h.svc.Approve(ctx, requestID, req.UserID); err != nil {
		writeJSON(w, ActionResponse{EphemeralText: h.errorText(ctx, "approve leave", err)})
		return
	}
	writeJSON(w, ActionResponse{EphemeralText: i18n.T(ctx, i18n.MsgRequestApproved, map[string]any{"RequestID": requestID})})
}

// HandleReject opens the rejection reason dialog.
func (h *LeaveHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	h.openReviewDialog(w, r, "/api/leave/reject-submit", h.svc.RejectDialog)
}

// HandleNote opens the admin note dialog.
func (h *LeaveHandler) HandleNote(w http.ResponseWriter, r *http.Request) {
	h.openReviewDialog(w, r, "/api/leave/note-submit", h.svc.NoteDialog)
}

func (h *LeaveHandler) openReviewDialog(w http.ResponseWriter, r *http.Request, path string, build func(context.Context, string) mattermost.Dialog) {
	req, ok := h.decodeAction(w, r)
	if !ok {
		return
	}
	ctx := h.svc.Localize(r.Context())
	if !h.requireAdmin(ctx, w, req.UserID) {
		return
	}
	requestID, ok := h.resolve(ctx, w, req)
	if !ok {
		return
	}

	err := h.mm.OpenDialog(ctx, &mattermost.DialogRequest{
		TriggerID: req.TriggerID,
		URL:       h.botURL + path,
		Dialog:    build(ctx, requestID),
	})
	if err != nil {
		h.logger.Error("open review dialog failed", zap.String("request_id", requestID), zap.Error(err))
		writeJSON(w, ActionResponse{EphemeralText: i18n.T(ctx, i18n.MsgGenericError)})
		return
	}
	writeJSON(w, ActionResponse{})
}

// HandleRejectSubmit rejects the request carried in the dialog state.
func (h *LeaveHandler) HandleRejectSubmit(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.decodeDialog(w, r)
	if !ok {
		return
	}
	ctx := h.svc.Localize(r.Context())
	if !h.svc.IsAdmin(ctx, sub.UserID) {
		writeJSON(w, DialogResponse{Error: i18n.T(ctx, i18n.MsgNoPermission)})
		return
	}

	req, err := h.svc.Reject(ctx, sub.State, sub.UserID, sub.Submission["reason"])
	if err != nil {
		writeJSON(w, DialogResponse{Error: h.errorText(ctx, "reject leave", err)})
		return
	}
	h.confirm(ctx, sub.UserID, sub.ChannelID, i18n.T(ctx, i18n.MsgRequestRejected, map[string]any{"RequestID": req.RequestID}))
	w.WriteHeader(http.StatusOK)
}

// HandleNoteSubmit stores the admin note carried in the dialog.
func (h *LeaveHandler) HandleNoteSubmit(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.decodeDialog(w, r)
	if !ok {
		return
	}
	ctx := h.svc.Localize(r.Context())
	if !h.svc.IsAdmin(ctx, sub.UserID) {
		writeJSON(w, DialogResponse{Error: i18n.T(ctx, i18n.MsgNoPermission)})
		return
	}

	note, err := h.svc.AddNote(ctx, sub.State, sub.UserID, sub.Submission["note"])
	if err != nil {
		text := h.errorText(ctx, "add note", err)
		if errors.Is(err, leave.ErrEmptyNote) {
			writeJSON(w, DialogResponse{Errors: map[string]string{"note": text}})
			return
		}
		writeJSON(w, DialogResponse{Error: text})
		return
	}
	h.confirm(ctx, sub.UserID, sub.ChannelID, i18n.T(ctx, i18n.MsgNoteAdded, map[string]any{"RequestID": note.RequestID}))
	w.WriteHeader(http.StatusOK)
}

// HandlePage replaces the my-requests message with another page.
func (h *LeaveHandler) HandlePage(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAction(w, r)
	if !ok {
		return
	}
	ctx := h.svc.Localize(r.Context())

	page, err := strconv.Atoi(req.ContextString("page"))
	if err != nil {
		page = 1
	}
	view, err := h.svc.MyRequestsView(ctx, req.UserID, page)
	if err != nil {
		writeJSON(w, ActionResponse{EphemeralText: h.errorText(ctx, "my requests", err)})
		return
	}
	writeJSON(w, ActionResponse{Update: &ActionUpdate{
		Message: view.Text,
		Props:   &mattermost.Props{Attachments: view.Attachments},
	}})
}

// confirm shows message to userID after a dialog closes. Failures are only logged.
func (h *LeaveHandler) confirm(ctx context.Context, userID, channelID, message string) {
	if channelID == "" {
		return
	}
	if err := h.mm.SendEphemeral(ctx, userID, channelID, message); err != nil {
		h.logger.Warn("send confirmation failed", zap.String("user_id", userID), zap.Error(err))
	}
}
