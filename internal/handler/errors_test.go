package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"leave-bot/internal/i18n"
	"leave-bot/internal/leave"
)

func TestErrorText_LogsByKind(t *testing.T) {
	require.NoError(t, i18n.Init("en"))
	ctx := i18n.WithLocale(context.Background(), "en")

	tests := []struct {
		name  string
		err   error
		level zapcore.Level
		logs  bool
	}{
		{"validation is not logged", leave.ErrInvalidDuration, 0, false},
		{"transition at info", leave.ErrAlreadyProcessed.With(map[string]any{"Status": "approved"}), zapcore.InfoLevel, true},
		{"not found at debug", leave.ErrNotFound, zapcore.DebugLevel, true},
		{"unclassified at error", errors.New("db down"), zapcore.ErrorLevel, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			h := &LeaveHandler{logger: zap.New(core)}

			text := h.errorText(ctx, "approve leave", tc.err)
			assert.NotEmpty(t, text)

			if !tc.logs {
				assert.Zero(t, logs.Len())
				return
			}
			require.Equal(t, 1, logs.Len())
			assert.Equal(t, tc.level, logs.All()[0].Level)
		})
	}
}
