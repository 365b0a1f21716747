package i18n

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadCatalog(t *testing.T, name string) map[string]string {
	t.Helper()
	data, err := localeFS.ReadFile("locales/" + name)
	require.NoError(t, err)
	var m map[string]string
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestLocales_SameKeys(t *testing.T) {
	en := loadCatalog(t, "en.json")
	ar := loadCatalog(t, "ar.json")

	for k := range en {
		assert.Contains(t, ar, k)
	}
	for k := range ar {
		assert.Contains(t, en, k)
	}
}

func TestT(t *testing.T) {
	require.NoError(t, Init("ar"))

	en := WithLocale(context.Background(), "en")
	assert.Equal(t, "Approve", T(en, ButtonApprove))
	assert.Equal(t, "قبول", T(context.Background(), ButtonApprove))

	msg := T(en, ErrDurationMismatch, map[string]any{"Calculated": 5})
	assert.Equal(t, "The duration does not match the dates. The selected period is 5 day(s).", msg)

	assert.Equal(t, "no.such.key", T(en, Key("no.such.key")))

	// Unknown locales fall back to the default.
	fr := WithLocale(context.Background(), "fr")
	assert.Equal(t, "قبول", T(fr, ButtonApprove))
}

func TestLocaleFromContext(t *testing.T) {
	require.NoError(t, Init("ar"))
	assert.Equal(t, "ar", LocaleFromContext(context.Background()))
	assert.Equal(t, "en", LocaleFromContext(WithLocale(context.Background(), "en")))
}
