package leave

import (
	"context"
	"fmt"

	"leave-bot/internal/model"
)

// Languages accepted by SetLanguage.
var Languages = []string{"ar", "en"}

// Settings is the single gateway to the lock flag, display language and the
// deployed submission panel.
type Settings struct {
	store           SettingsStore
	defaultLanguage string
}

func NewSettings(store SettingsStore, defaultLanguage string) *Settings {
	if defaultLanguage == "" {
		defaultLanguage = "ar"
	}
	return &Settings{store: store, defaultLanguage: defaultLanguage}
}

func (s *Settings) IsLocked(ctx context.Context) (bool, error) {
	v, _, err := s.store.GetSetting(ctx, model.SettingSystemLocked)
	if err != nil {
		return false, fmt.Errorf("get lock flag: %w", err)
	}
	return v == "true", nil
}

func (s *Settings) SetLocked(ctx context.Context, locked bool) error {
	v := "false"
	if locked {
		v = "true"
	}
	return s.store.SetSetting(ctx, model.SettingSystemLocked, v)
}

// Language returns the active display language, falling back to the configured default.
func (s *Settings) Language(ctx context.Context) (string, error) {
	v, ok, err := s.store.GetSetting(ctx, model.SettingLanguage)
	if err != nil {
		return s.defaultLanguage, fmt.Errorf("get language: %w", err)
	}
	if !ok || v == "" {
		return s.defaultLanguage, nil
	}
	return v, nil
}

func (s *Settings) SetLanguage(ctx context.Context, code string) error {
	if !supportedLanguage(code) {
		return ErrInvalidLanguage.With(map[string]any{"Language": code})
	}
	return s.store.SetSetting(ctx, model.SettingLanguage, code)
}

// PanelPost returns the submission panel post and its channel, empty if never deployed.
func (s *Settings) PanelPost(ctx context.Context) (postID, channelID string, err error) {
	postID, _, err = s.store.GetSetting(ctx, model.SettingPanelPostID)
	if err != nil {
		return "", "", err
	}
	channelID, _, err = s.store.GetSetting(ctx, model.SettingPanelChannelID)
	if err != nil {
		return "", "", err
	}
	return postID, channelID, nil
}

func (s *Settings) SetPanelPost(ctx context.Context, postID, channelID string) error {
	if err := s.store.SetSetting(ctx, model.SettingPanelPostID, postID); err != nil {
		return err
	}
	return s.store.SetSetting(ctx, model.SettingPanelChannelID, channelID)
}

func supportedLanguage(code string) bool {
	for _, l := range Languages {
		if l == code {
			return true
		}
	}
	return false
}
