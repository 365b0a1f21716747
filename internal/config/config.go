package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Port          string `validate:"required,numeric"`
	Env           string `validate:"required"`
	BotURL        string `validate:"required,url"`
	MattermostURL string `validate:"required,url"`
	BotToken      string `validate:"required"`
	CommandToken  string
	LogFile       string

	StoreDriver string `validate:"oneof=mongo sqlite"`
	MongoURI    string `validate:"required_if=StoreDriver mongo"`
	MongoDB     string `validate:"required_if=StoreDriver mongo"`
	SQLitePath  string `validate:"required_if=StoreDriver sqlite"`

	RequestChannelID      string
	ReviewChannelID       string `validate:"required"`
	LogChannelID          string
	NotificationChannelID string
	NotificationMention   string
	AdminUserIDs          []string
	RejectedGroupID       string

	DefaultLanguage  string         `validate:"oneof=ar en"`
	WeeklyCap        int            `validate:"min=1"`
	ReminderHours    int            `validate:"min=1"`
	ReminderInterval time.Duration  `validate:"gt=0"`
	RoleLimits       map[string]int `validate:"dive,min=1"`
	RequestIDPrefix  string         `validate:"required,alphanum,uppercase,max=10"`
	Timezone         string
	Location         *time.Location `validate:"required"`
}

// Load reads the environment, after a .env file when one exists, and validates
// the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var errs []error
	cfg := &Config{
		Port:          getEnv("PORT", "3000"),
		Env:           getEnv("ENV", "development"),
		BotURL:        strings.TrimRight(getEnv("BOT_URL", "http://bot-service:3000"), "/"),
		MattermostURL: strings.TrimRight(getEnv("MATTERMOST_URL", "http://localhost:8065"), "/"),
		BotToken:      getEnv("MATTERMOST_BOT_TOKEN", ""),
		CommandToken:  getEnv("MATTERMOST_COMMAND_TOKEN", ""),
		LogFile:       getEnv("LOG_FILE", ""),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "mongo")),
		MongoURI:    getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDB:     getEnv("MONGODB_DATABASE", "leavebot"),
		SQLitePath:  getEnv("SQLITE_PATH", "leave-bot.db"),

		RequestChannelID:      getEnv("LEAVE_REQUEST_CHANNEL_ID", ""),
		ReviewChannelID:       getEnv("LEAVE_REVIEW_CHANNEL_ID", ""),
		LogChannelID:          getEnv("LEAVE_LOG_CHANNEL_ID", ""),
		NotificationChannelID: getEnv("NOTIFICATION_CHANNEL_ID", ""),
		NotificationMention:   getEnv("NOTIFICATION_MENTION", "@here"),
		AdminUserIDs:          splitList(getEnv("ADMIN_USER_IDS", "")),
		RejectedGroupID:       getEnv("REJECTED_LEAVE_GROUP_ID", ""),

		DefaultLanguage: strings.ToLower(getEnv("DEFAULT_LANGUAGE", "ar")),
		RequestIDPrefix: strings.ToUpper(getEnv("REQUEST_ID_PREFIX", "PL")),
		Timezone:        getEnv("TIMEZONE", "UTC"),
	}

	var err error
	if cfg.WeeklyCap, err = getEnvAsInt("MAX_LEAVE_REQUESTS_PER_WEEK", 2); err != nil {
		errs = append(errs, err)
	}
	if cfg.ReminderHours, err = getEnvAsInt("REMINDER_HOURS_BEFORE_END", 24); err != nil {
		errs = append(errs, err)
	}
	if cfg.ReminderInterval, err = getEnvAsDuration("REMINDER_INTERVAL", time.Hour); err != nil {
		errs = append(errs, err)
	}
	if cfg.RoleLimits, err = ParseRoleLimits(getEnv("LEAVE_ROLE_LIMITS", "")); err != nil {
		errs = append(errs, err)
	}
	if cfg.Location, err = time.LoadLocation(cfg.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE: %w", err))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Fields lists the non-secret settings for the startup log.
func (c *Config) Fields() []zap.Field {
	return []zap.Field{
		zap.String("port", c.Port),
		zap.String("env", c.Env),
		zap.String("store", c.StoreDriver),
		zap.String("language", c.DefaultLanguage),
		zap.Int("weekly_cap", c.WeeklyCap),
		zap.Int("reminder_hours", c.ReminderHours),
		zap.Duration("reminder_interval", c.ReminderInterval),
		zap.Any("role_limits", c.RoleLimits),
		zap.String("timezone", c.Timezone),
		zap.Int("admins", len(c.AdminUserIDs)),
	}
}

// ParseRoleLimits reads "role:days,role:days". Blank input means no limits.
func ParseRoleLimits(s string) (map[string]int, error) {
	limits := map[string]int{}
	for _, part := range splitList(s) {
		role, days, ok := strings.Cut(part, ":")
		role = strings.TrimSpace(role)
		if !ok || role == "" {
			return nil, fmt.Errorf("LEAVE_ROLE_LIMITS: malformed entry %q", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(days))
		if err != nil {
			return nil, fmt.Errorf("LEAVE_ROLE_LIMITS: bad day count for %q: %w", role, err)
		}
		limits[role] = n
	}
	return limits, nil
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
