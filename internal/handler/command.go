package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"leave-bot/internal/export"
	"leave-bot/internal/i18n"
	"leave-bot/internal/service"
)

// Sub-commands any member may run. Everything else needs an admin.
var memberCommands = map[string]bool{"help": true, "my": true}

// HandleSlashCommand dispatches /leave [sub] [args].
func (h *LeaveHandler) HandleSlashCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := parseSlashCommand(r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if h.commandToken != "" && subtle.ConstantTimeCompare([]byte(cmd.Token), []byte(h.commandToken)) != 1 {
		h.logger.Warn("slash command token mismatch", zap.String("user_id", cmd.UserID))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ctx := h.svc.Localize(r.Context())
	args := strings.Fields(cmd.Text)
	sub := "help"
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
		args = args[1:]
	}
	h.logger.Debug("slash command", zap.String("user_id", cmd.UserID), zap.String("sub", sub))

	admin := h.svc.IsAdmin(ctx, cmd.UserID)
	if !memberCommands[sub] && !admin {
		writeJSON(w, ephemeral(i18n.T(ctx, i18n.MsgNoPermission)))
		return
	}

	writeJSON(w, h.runCommand(ctx, cmd, sub, args, admin))
}

func (h *LeaveHandler) runCommand(ctx context.Context, cmd *SlashCommand, sub string, args []string, admin bool) SlashResponse {
	switch sub {
	case "help":
		text := i18n.T(ctx, i18n.MsgHelp)
		if admin {
			text += "\n\n" + i18n.T(ctx, i18n.MsgHelpAdmin)
		}
		return ephemeral(text)

	case "my":
		page := 1
		if len(args) > 0 {
			if n, err := strconv.Atoi(args[0]); err == nil {
				page = n
			}
		}
		return h.view(ctx, "my requests", func() (*service.View, error) {
			return h.svc.MyRequestsView(ctx, cmd.UserID, page)
		})

	case "deploy":
		if _, err := h.svc.DeployPanel(ctx, cmd.ChannelID); err != nil {
			return ephemeral(h.errorText(ctx, "deploy panel", err))
		}
		return ephemeral(i18n.T(ctx, i18n.MsgPanelDeployed))

	case "search":
		return h.view(ctx, "search", func() (*service.View, error) {
			return h.svc.SearchView(ctx, args)
		})

	case "stats":
		period := ""
		if len(args) > 0 {
			period = args[0]
		}
		return h.view(ctx, "stats", func() (*service.View, error) {
			return h.svc.StatsView(ctx, period)
		})

	case "pending":
		return h.view(ctx, "pending", func() (*service.View, error) {
			return h.svc.PendingView(ctx)
		})

	case "history":
		if len(args) < 1 {
			return usage(ctx, "/leave history <id>")
		}
		return h.view(ctx, "history", func() (*service.View, error) {
			return h.svc.HistoryView(ctx, strings.ToUpper(args[0]))
		})

	case "export":
		return h.export(ctx, cmd.UserID, args)

	case "cancel":
		if len(args) < 1 {
			return usage(ctx, "/leave cancel <id>")
		}
		req, err := h.svc.Cancel(ctx, strings.ToUpper(args[0]), cmd.UserID)
		if err != nil {
			return ephemeral(h.errorText(ctx, "cancel leave", err))
		}
		return ephemeral(i18n.T(ctx, i18n.MsgRequestCancelled, map[string]any{"RequestID": req.RequestID}))

	case "note":
		if len(args) < 2 {
			return usage(ctx, "/leave note <id> <text>")
		}
		note, err := h.svc.AddNote(ctx, strings.ToUpper(args[0]), cmd.UserID, strings.Join(args[1:], " "))
		if err != nil {
			return ephemeral(h.errorText(ctx, "add note", err))
		}
		return ephemeral(i18n.T(ctx, i18n.MsgNoteAdded, map[string]any{"RequestID": note.RequestID}))

	case "lock", "unlock":
		locked := sub == "lock"
		if err := h.svc.SetLocked(ctx, locked); err != nil {
			return ephemeral(h.errorText(ctx, sub, err))
		}
		if locked {
			return ephemeral(i18n.T(ctx, i18n.MsgSystemLocked))
		}
		return ephemeral(i18n.T(ctx, i18n.MsgSystemUnlocked))

	case "language":
		if len(args) < 1 {
			return usage(ctx, "/leave language en|ar")
		}
		langCtx, err := h.svc.SetLanguage(ctx, args[0])
		if err != nil {
			return ephemeral(h.errorText(ctx, "set language", err))
		}
		return ephemeral(i18n.T(langCtx, i18n.MsgLanguageChanged, map[string]any{"Language": i18n.LocaleFromContext(langCtx)}))

	default:
		return ephemeral(i18n.T(ctx, i18n.MsgUnknownCommand))
	}
}

func (h *LeaveHandler) export(ctx context.Context, userID string, args []string) SlashResponse {
	if len(args) < 1 {
		return usage(ctx, "/leave export csv|json [from] [to]")
	}
	format, err := export.ParseFormat(args[0])
	if err != nil {
		return usage(ctx, "/leave export csv|json [from] [to]")
	}
	var from, to string
	if len(args) > 1 {
		from = args[1]
	}
	if len(args) > 2 {
		to = args[2]
	}

	n, err := h.svc.Export(ctx, userID, format, from, to)
	if err != nil {
		return ephemeral(h.errorText(ctx, "export", err))
	}
	if n == 0 {
		return ephemeral(i18n.T(ctx, i18n.MsgExportEmpty))
	}
	return ephemeral(i18n.T(ctx, i18n.MsgExportSent, map[string]any{"Count": n, "Format": strings.ToUpper(string(format))}))
}

func (h *LeaveHandler) view(ctx context.Context, op string, render func() (*service.View, error)) SlashResponse {
	v, err := render()
	if err != nil {
		return ephemeral(h.errorText(ctx, op, err))
	}
	return ephemeral(v.Text, v.Attachments...)
}

func usage(ctx context.Context, text string) SlashResponse {
	return ephemeral(i18n.T(ctx, i18n.MsgUsage, map[string]any{"Usage": text}))
}
