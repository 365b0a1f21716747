package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"leave-bot/internal/handler"
	"leave-bot/internal/i18n"
	"leave-bot/internal/leave"
	"leave-bot/internal/mattermost/mmtest"
	"leave-bot/internal/model"
	"leave-bot/internal/service"
	"leave-bot/internal/store/sqlite"
)

const commandToken = "cmd-token"

type env struct {
	ctx    context.Context
	h      http.Handler
	mm     *mmtest.Server
	svc    *service.LeaveService
	engine *leave.Engine
}

func setup(t *testing.T, opts ...sqlite.Option) *env {
	t.Helper()
	require.NoError(t, i18n.Init("ar"))

	mm := mmtest.NewServer()
	t.Cleanup(mm.Close)
	mm.AddUser("u1", "alice", "system_user")
	mm.AddUser("admin", "boss", "system_user system_admin")

	now := time.Date(2024, 12, 20, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	st, err := sqlite.New(":memory:", append([]sqlite.Option{sqlite.WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	client := mm.Client()
	settings := leave.NewSettings(st, "ar")
	require.NoError(t, settings.SetLanguage(context.Background(), "en"))
	engine := leave.NewEngine(st, settings, leave.NewRoles(st, service.NewGroupDirectory(client)), leave.Options{Now: clock})
	svc := service.NewLeaveService(engine, client, service.Options{
		BotURL:          "http://bot",
		ReviewChannelID: "review",
		Now:             clock,
	}, zap.NewNop())

	mux := http.NewServeMux()
	handler.NewLeaveHandler(svc, client, "http://bot", commandToken, zap.NewNop()).RegisterRoutes(mux)
	return &env{
		ctx:    svc.Localize(context.Background()),
		h:      handler.LoggingMiddleware(mux, zap.NewNop()),
		mm:     mm,
		svc:    svc,
		engine: engine,
	}
}

func (e *env) slash(t *testing.T, userID, text string) handler.SlashResponse {
	t.Helper()
	rec := e.slashRaw(userID, text, commandToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp handler.SlashResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ephemeral", resp.ResponseType)
	return resp
}

func (e *env) slashRaw(userID, text, token string) *httptest.ResponseRecorder {
	form := url.Values{
		"token":      {token},
		"user_id":    {userID},
		"channel_id": {"town-square"},
		"command":    {"/leave"},
		"text":       {text},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/leave", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func (e *env) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func (e *env) action(t *testing.T, path string, body handler.ActionRequest) handler.ActionResponse {
	t.Helper()
	rec := e.post(t, path, body)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp handler.ActionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (e *env) dialog(t *testing.T, path string, body handler.DialogSubmission) handler.DialogResponse {
	t.Helper()
	rec := e.post(t, path, body)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp handler.DialogResponse
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return resp
}

func (e *env) submit(t *testing.T) *model.LeaveRequest {
	t.Helper()
	req, err := e.svc.SubmitLeave(e.ctx, "u1", service.LeaveForm{
		Reason:    "Trip",
		Duration:  "3",
		StartDate: "2025-01-01",
		EndDate:   "2025-01-03",
	})
	require.NoError(t, err)
	return req
}

func TestSlash_TokenMismatch(t *testing.T) {
	e := setup(t)
	rec := e.slashRaw("u1", "help", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSlash_Help(t *testing.T) {
	e := setup(t)

	member := e.slash(t, "u1", "")
	assert.Contains(t, member.Text, "/leave my")
	assert.NotContains(t, member.Text, "Admin commands")

	admin := e.slash(t, "admin", "help")
	assert.Contains(t, admin.Text, "Admin commands")
}

func TestSlash_AdminOnly(t *testing.T) {
	e := setup(t)
	for _, sub := range []string{"pending", "deploy", "lock", "export csv", "cancel PL-0001", "language ar"} {
		t.Run(sub, func(t *testing.T) {
			resp := e.slash(t, "u1", sub)
			assert.Equal(t, "You do not have permission to do that.", resp.Text)
		})
	}
}

func TestSlash_Unknown(t *testing.T) {
	e := setup(t)
	resp := e.slash(t, "admin", "dance")
	assert.Equal(t, "Unknown command. Type `/leave help` for the list of commands.", resp.Text)
}

func TestSlash_Usage(t *testing.T) {
	e := setup(t)

	tests := []struct {
		text string
		want string
	}{
		{"cancel", "Usage: `/leave cancel <id>`"},
		{"note PL-0001", "Usage: `/leave note <id> <text>`"},
		{"history", "Usage: `/leave history <id>`"},
		{"export xml", "Usage: `/leave export csv|json [from] [to]`"},
		{"language", "Usage: `/leave language en|ar`"},
	}
	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			assert.Equal(t, tc.want, e.slash(t, "admin", tc.text).Text)
		})
	}
}

func TestSlash_AdminFlow(t *testing.T) {
	e := setup(t)
	req := e.submit(t)

	resp := e.slash(t, "admin", "pending")
	assert.Contains(t, resp.Text, "Pending requests (1)")

	resp = e.slash(t, "admin", "note pl-0001 Called the member")
	assert.Equal(t, "Note added to **PL-0001**.", resp.Text)

	_, err := e.svc.Approve(e.ctx, req.RequestID, "admin")
	require.NoError(t, err)

	resp = e.slash(t, "admin", "cancel PL-0001")
	assert.Equal(t, "Request **PL-0001** cancelled.", resp.Text)

	resp = e.slash(t, "admin", "cancel PL-0001")
	assert.Equal(t, "This request was already processed (Cancelled).", resp.Text)

	resp = e.slash(t, "admin", "history PL-0001")
	assert.Contains(t, resp.Text, "Approved to Cancelled by @boss")
	assert.Contains(t, resp.Text, "Called the member")
	assert.Len(t, resp.Attachments, 1)

	resp = e.slash(t, "admin", "search status=cancelled")
	assert.Contains(t, resp.Text, "Search results (1)")

	resp = e.slash(t, "admin", "stats week")
	assert.Contains(t, resp.Text, "Leave statistics (last week)")

	resp = e.slash(t, "admin", "history PL-0404")
	assert.Equal(t, "Leave request not found.", resp.Text)
}

func TestSlash_LowercasePrefix(t *testing.T) {
	e := setup(t, sqlite.WithRequestPrefix("lv"))
	req := e.submit(t)
	assert.Equal(t, "LV-0001", req.RequestID)

	resp := e.slash(t, "admin", "note lv-0001 Checked")
	assert.Equal(t, "Note added to **LV-0001**.", resp.Text)

	resp = e.slash(t, "admin", "history lv-0001")
	assert.Contains(t, resp.Text, "Checked")

	resp = e.slash(t, "admin", "search id=lv-0001")
	assert.Contains(t, resp.Text, "Search results (1)")
}

func TestSlash_Export(t *testing.T) {
	e := setup(t)

	resp := e.slash(t, "admin", "export json")
	assert.Equal(t, "No leave requests in that range.", resp.Text)

	e.submit(t)
	resp = e.slash(t, "admin", "export CSV 2024-12-01 2024-12-31")
	assert.Equal(t, "Exported 1 request(s) as CSV. Check your direct messages.", resp.Text)
	require.Len(t, e.mm.DMs("admin"), 1)

	resp = e.slash(t, "admin", "export csv 2024-13-01")
	assert.Equal(t, "Invalid date. Use the YYYY-MM-DD format.", resp.Text)
}

func TestSlash_LockAndLanguage(t *testing.T) {
	e := setup(t)

	resp := e.slash(t, "admin", "deploy")
	assert.Equal(t, "Leave request panel deployed.", resp.Text)
	require.Len(t, e.mm.Posts("town-square"), 1)

	resp = e.slash(t, "admin", "lock")
	assert.Equal(t, "The leave system is now locked.", resp.Text)
	action := e.action(t, "/api/leave/form", handler.ActionRequest{UserID: "u1", TriggerID: "trigger"})
	assert.Equal(t, "The leave system is locked. Please try again later.", action.EphemeralText)
	assert.Empty(t, e.mm.Dialogs())

	resp = e.slash(t, "admin", "unlock")
	assert.Equal(t, "The leave system is now unlocked.", resp.Text)

	resp = e.slash(t, "admin", "language fr")
	assert.Equal(t, `Unsupported language "fr". Use en or ar.`, resp.Text)

	resp = e.slash(t, "admin", "language ar")
	arCtx := i18n.WithLocale(context.Background(), "ar")
	assert.Equal(t, i18n.T(arCtx, i18n.MsgLanguageChanged, map[string]any{"Language": "ar"}), resp.Text)

	resp = e.slash(t, "u1", "my")
	assert.Equal(t, i18n.T(arCtx, i18n.MyEmpty), resp.Text)
}

func TestForm_OpensDialog(t *testing.T) {
	e := setup(t)

	resp := e.action(t, "/api/leave/form", handler.ActionRequest{UserID: "u1", TriggerID: "trigger-1"})
	assert.Empty(t, resp.EphemeralText)

	dialogs := e.mm.Dialogs()
	require.Len(t, dialogs, 1)
	assert.Equal(t, "trigger-1", dialogs[0].TriggerID)
	assert.Equal(t, "http://bot/api/leave/submit", dialogs[0].URL)
	assert.Equal(t, "Leave request", dialogs[0].Dialog.Title)
}

func TestSubmit(t *testing.T) {
	e := setup(t)

	t.Run("field error", func(t *testing.T) {
		resp := e.dialog(t, "/api/leave/submit", handler.DialogSubmission{
			UserID:    "u1",
			ChannelID: "town-square",
			Submission: map[string]string{
				"reason": "Trip", "duration": "5", "start_date": "2025-01-01", "end_date": "2025-01-03",
			},
		})
		assert.Equal(t, "The duration does not match the dates. The selected period is 3 day(s).", resp.Errors["duration"])
	})

	t.Run("success", func(t *testing.T) {
		resp := e.dialog(t, "/api/leave/submit", handler.DialogSubmission{
			UserID:    "u1",
			ChannelID: "town-square",
			Submission: map[string]string{
				"reason": "Trip", "duration": "3", "start_date": "2025-01-01", "end_date": "2025-01-03",
			},
		})
		assert.Empty(t, resp.Error)
		assert.Empty(t, resp.Errors)

		msgs := e.mm.Ephemerals("u1")
		require.Len(t, msgs, 1)
		assert.Equal(t, "Your leave request **PL-0001** was submitted and is waiting for review.", msgs[0].Message)
		assert.Len(t, e.mm.Posts("review"), 1)
	})

	t.Run("cancelled dialog", func(t *testing.T) {
		rec := e.post(t, "/api/leave/submit", handler.DialogSubmission{UserID: "u1", Cancelled: true})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Zero(t, rec.Body.Len())
	})
}

func TestApproveButton(t *testing.T) {
	e := setup(t)
	req := e.submit(t)

	resp := e.action(t, "/api/leave/approve", handler.ActionRequest{
		UserID:  "u1",
		PostID:  req.MessageID,
		Context: map[string]any{"request_id": req.RequestID},
	})
	assert.Equal(t, "You do not have permission to do that.", resp.EphemeralText)

	// No request id in the context: resolved from the review post.
	resp = e.action(t, "/api/leave/approve", handler.ActionRequest{UserID: "admin", PostID: req.MessageID})
	assert.Equal(t, "Request **PL-0001** approved.", resp.EphemeralText)

	stored, err := e.engine.Get(e.ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, model.LeaveStatusApproved, stored.Status)

	resp = e.action(t, "/api/leave/approve", handler.ActionRequest{
		UserID:  "admin",
		Context: map[string]any{"request_id": req.RequestID},
	})
	assert.Equal(t, "This request was already processed (Approved).", resp.EphemeralText)
}

func TestRejectFlow(t *testing.T) {
	e := setup(t)
	req := e.submit(t)

	resp := e.action(t, "/api/leave/reject", handler.ActionRequest{
		UserID:    "admin",
		TriggerID: "trigger-2",
		Context:   map[string]any{"request_id": req.RequestID},
	})
	assert.Empty(t, resp.EphemeralText)
	dialogs := e.mm.Dialogs()
	require.Len(t, dialogs, 1)
	assert.Equal(t, "http://bot/api/leave/reject-submit", dialogs[0].URL)
	assert.Equal(t, req.RequestID, dialogs[0].Dialog.State)

	denied := e.dialog(t, "/api/leave/reject-submit", handler.DialogSubmission{
		UserID: "u1", State: req.RequestID, Submission: map[string]string{"reason": "no"},
	})
	assert.Equal(t, "You do not have permission to do that.", denied.Error)

	ok := e.dialog(t, "/api/leave/reject-submit", handler.DialogSubmission{
		UserID: "admin", ChannelID: "review", State: req.RequestID, Submission: map[string]string{"reason": "Busy week"},
	})
	assert.Empty(t, ok.Error)

	stored, err := e.engine.Get(e.ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, model.LeaveStatusRejected, stored.Status)
	assert.Equal(t, "Busy week", stored.RejectionReason)
	assert.Equal(t, "Request **PL-0001** rejected.", e.mm.Ephemerals("admin")[0].Message)

	again := e.dialog(t, "/api/leave/reject-submit", handler.DialogSubmission{
		UserID: "admin", State: req.RequestID,
	})
	assert.Equal(t, "This request was already processed (Rejected).", again.Error)
}

func TestNoteFlow(t *testing.T) {
	e := setup(t)
	req := e.submit(t)

	resp := e.action(t, "/api/leave/note", handler.ActionRequest{UserID: "admin", TriggerID: "t", PostID: req.MessageID})
	assert.Empty(t, resp.EphemeralText)
	require.Len(t, e.mm.Dialogs(), 1)
	assert.Equal(t, "http://bot/api/leave/note-submit", e.mm.Dialogs()[0].URL)

	empty := e.dialog(t, "/api/leave/note-submit", handler.DialogSubmission{
		UserID: "admin", State: req.RequestID, Submission: map[string]string{"note": "  "},
	})
	assert.Equal(t, "The note cannot be empty.", empty.Errors["note"])

	ok := e.dialog(t, "/api/leave/note-submit", handler.DialogSubmission{
		UserID: "admin", State: req.RequestID, Submission: map[string]string{"note": "Approved verbally"},
	})
	assert.Empty(t, ok.Error)

	notes, err := e.engine.Notes(e.ctx, req.RequestID)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Approved verbally", notes[0].Text)

	missing := e.dialog(t, "/api/leave/note-submit", handler.DialogSubmission{
		UserID: "admin", State: "PL-0404", Submission: map[string]string{"note": "x"},
	})
	assert.Equal(t, "Leave request not found.", missing.Error)
}

func TestPage(t *testing.T) {
	e := setup(t)
	for i := 0; i < 2; i++ {
		e.submit(t)
	}

	resp := e.action(t, "/api/leave/page", handler.ActionRequest{UserID: "u1", Context: map[string]any{"page": "1"}})
	require.NotNil(t, resp.Update)
	assert.Contains(t, resp.Update.Message, "Page 1 of 1 (2 total)")

	resp = e.action(t, "/api/leave/page", handler.ActionRequest{UserID: "u1", Context: map[string]any{"page": float64(3)}})
	require.NotNil(t, resp.Update)
	assert.Contains(t, resp.Update.Message, "Page 1 of 1 (2 total)")
}

func TestLoggingMiddleware(t *testing.T) {
	h := handler.LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/panic" {
			panic("boom")
		}
		w.WriteHeader(http.StatusTeapot)
	}), zap.NewNop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
