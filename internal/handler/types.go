package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"leave-bot/internal/mattermost"
)

// SlashCommand is the Mattermost slash command request.
type SlashCommand struct {
	Token       string `json:"token"`
	TeamID      string `json:"team_id"`
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
	UserID      string `json:"user_id"`
	UserName    string `json:"user_name"`
	Command     string `json:"command"`
	Text        string `json:"text"`
	TriggerID   string `json:"trigger_id"`
	ResponseURL string `json:"response_url"`
}

func parseSlashCommand(r *http.Request) (*SlashCommand, error) {
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return &SlashCommand{
		Token:       r.FormValue("token"),
		TeamID:      r.FormValue("team_id"),
		ChannelID:   r.FormValue("channel_id"),
		ChannelName: r.FormValue("channel_name"),
		UserID:      r.FormValue("user_id"),
		UserName:    r.FormValue("user_name"),
		Command:     r.FormValue("command"),
		Text:        r.FormValue("text"),
		TriggerID:   r.FormValue("trigger_id"),
		ResponseURL: r.FormValue("response_url"),
	}, nil
}

// ActionRequest is the Mattermost interactive action request.
type ActionRequest struct {
	UserID    string         `json:"user_id"`
	UserName  string         `json:"user_name"`
	ChannelID string         `json:"channel_id"`
	PostID    string         `json:"post_id"`
	TriggerID string         `json:"trigger_id"`
	Type      string         `json:"type"`
	Context   map[string]any `json:"context"`
}

// ContextString reads key from the action context. Numbers arrive as float64
// after a JSON round trip.
func (a *ActionRequest) ContextString(key string) string {
	switch v := a.Context[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// DialogSubmission is the Mattermost dialog submission.
type DialogSubmission struct {
	Type       string            `json:"type"`
	CallbackID string            `json:"callback_id"`
	State      string            `json:"state"`
	UserID     string            `json:"user_id"`
	UserName   string            `json:"user_name"`
	ChannelID  string            `json:"channel_id"`
	TeamID     string            `json:"team_id"`
	Submission map[string]string `json:"submission"`
	Cancelled  bool              `json:"cancelled"`
}

// DialogResponse keeps the dialog open and shows the errors. An empty response
// closes it.
type DialogResponse struct {
	Error  string            `json:"error,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
}

// SlashResponse is the response to a slash command.
type SlashResponse struct {
	ResponseType string                  `json:"response_type"` // "ephemeral" or "in_channel"
	Text         string                  `json:"text,omitempty"`
	Attachments  []mattermost.Attachment `json:"attachments,omitempty"`
}

// ActionResponse is the response to an interactive action.
type ActionResponse struct {
	Update        *ActionUpdate `json:"update,omitempty"`
	EphemeralText string        `json:"ephemeral_text,omitempty"`
}

// ActionUpdate updates the original post.
type ActionUpdate struct {
	Message string            `json:"message,omitempty"`
	Props   *mattermost.Props `json:"props,omitempty"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Named("handler").Error("encode response failed", zap.Error(err))
	}
}

func ephemeral(text string, attachments ...mattermost.Attachment) SlashResponse {
	return SlashResponse{ResponseType: "ephemeral", Text: text, Attachments: attachments}
}
