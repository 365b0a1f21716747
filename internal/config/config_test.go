package config

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"PORT", "ENV", "BOT_URL", "MATTERMOST_URL", "MATTERMOST_BOT_TOKEN", "MATTERMOST_COMMAND_TOKEN",
	"STORE_DRIVER", "MONGODB_URI", "MONGODB_DATABASE", "SQLITE_PATH", "LOG_FILE",
	"LEAVE_REQUEST_CHANNEL_ID", "LEAVE_REVIEW_CHANNEL_ID", "LEAVE_LOG_CHANNEL_ID",
	"NOTIFICATION_CHANNEL_ID", "NOTIFICATION_MENTION", "ADMIN_USER_IDS", "REJECTED_LEAVE_GROUP_ID",
	"DEFAULT_LANGUAGE", "MAX_LEAVE_REQUESTS_PER_WEEK", "REMINDER_HOURS_BEFORE_END",
	"REMINDER_INTERVAL", "LEAVE_ROLE_LIMITS", "REQUEST_ID_PREFIX", "TIMEZONE",
}

func cleanEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
	t.Setenv("MATTERMOST_BOT_TOKEN", "bot-token")
	t.Setenv("LEAVE_REVIEW_CHANNEL_ID", "review")
}

func TestLoad_Defaults(t *testing.T) {
	cleanEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, "mongo", cfg.StoreDriver)
	assert.Equal(t, "ar", cfg.DefaultLanguage)
	assert.Equal(t, 2, cfg.WeeklyCap)
	assert.Equal(t, 24, cfg.ReminderHours)
	assert.Equal(t, time.Hour, cfg.ReminderInterval)
	assert.Equal(t, "PL", cfg.RequestIDPrefix)
	assert.Empty(t, cfg.RoleLimits)
	assert.Empty(t, cfg.AdminUserIDs)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.NotEmpty(t, cfg.Fields())
}

func TestLoad_Overrides(t *testing.T) {
	cleanEnv(t)
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("SQLITE_PATH", "/data/leave.db")
	t.Setenv("BOT_URL", "https://bot.example.com/")
	t.Setenv("ADMIN_USER_IDS", " a1, b2 ,,")
	t.Setenv("LEAVE_ROLE_LIMITS", "intern:3, contractor : 5")
	t.Setenv("DEFAULT_LANGUAGE", "EN")
	t.Setenv("MAX_LEAVE_REQUESTS_PER_WEEK", "4")
	t.Setenv("REMINDER_INTERVAL", "30m")
	t.Setenv("TIMEZONE", "Europe/Berlin")
	t.Setenv("REQUEST_ID_PREFIX", "lv")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, "/data/leave.db", cfg.SQLitePath)
	assert.Equal(t, "https://bot.example.com", cfg.BotURL)
	assert.Equal(t, []string{"a1", "b2"}, cfg.AdminUserIDs)
	assert.Equal(t, map[string]int{"intern": 3, "contractor": 5}, cfg.RoleLimits)
	assert.Equal(t, "en", cfg.DefaultLanguage)
	assert.Equal(t, 4, cfg.WeeklyCap)
	assert.Equal(t, 30*time.Minute, cfg.ReminderInterval)
	assert.Equal(t, "Europe/Berlin", cfg.Location.String())
	assert.Equal(t, "LV", cfg.RequestIDPrefix)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"missing bot token", "MATTERMOST_BOT_TOKEN", ""},
		{"missing review channel", "LEAVE_REVIEW_CHANNEL_ID", ""},
		{"unknown driver", "STORE_DRIVER", "postgres"},
		{"unknown language", "DEFAULT_LANGUAGE", "fr"},
		{"bad weekly cap", "MAX_LEAVE_REQUESTS_PER_WEEK", "two"},
		{"zero weekly cap", "MAX_LEAVE_REQUESTS_PER_WEEK", "0"},
		{"bad interval", "REMINDER_INTERVAL", "hourly"},
		{"bad role limits", "LEAVE_ROLE_LIMITS", "intern"},
		{"non-positive role limit", "LEAVE_ROLE_LIMITS", "intern:0"},
		{"bad timezone", "TIMEZONE", "Mars/Base"},
		{"bad prefix", "REQUEST_ID_PREFIX", "P-L"},
		{"bad bot url", "BOT_URL", "not a url"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cleanEnv(t)
			t.Setenv(tc.key, tc.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestParseRoleLimits(t *testing.T) {
	got, err := ParseRoleLimits("")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = ParseRoleLimits("system_user:10,team_lead:20")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"system_user": 10, "team_lead": 20}, got)

	_, err = ParseRoleLimits(":5")
	assert.Error(t, err)
	_, err = ParseRoleLimits("lead:x")
	assert.Error(t, err)
}
