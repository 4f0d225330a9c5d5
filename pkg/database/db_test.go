package database

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithStartupParamsURL(t *testing.T) {
	dsn, err := withStartupParams("postgres://u:p@db:5432/astra?sslmode=disable", map[string]string{
		"timezone":         "UTC",
		"application_name": "astra-auth",
	})
	require.NoError(t, err)

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "disable", q.Get("sslmode"))
	assert.Equal(t, "UTC", q.Get("timezone"))
	assert.Equal(t, "astra-auth", q.Get("application_name"))
	assert.Equal(t, "db:5432", u.Host)
}

func TestWithStartupParamsKeepsExplicitValues(t *testing.T) {
	dsn, err := withStartupParams("postgres://db/astra?timezone=Europe%2FBerlin", map[string]string{"timezone": "UTC"})
	require.NoError(t, err)
	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", u.Query().Get("timezone"))

	kv, err := withStartupParams("host=db dbname=astra timezone=UTC", map[string]string{"timezone": "Asia/Tokyo"})
	require.NoError(t, err)
	assert.Equal(t, "host=db dbname=astra timezone=UTC", kv)
}

func TestWithStartupParamsKeyValue(t *testing.T) {
	dsn, err := withStartupParams("host=db dbname=astra", map[string]string{
		"application_name": "o'brien",
		"timezone":         "",
	})
	require.NoError(t, err)
	assert.Equal(t, `host=db dbname=astra application_name='o\'brien'`, dsn)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/astra")
	t.Setenv("DATABASE_MAX_CONNS", "25")
	t.Setenv("DATABASE_MAX_IDLE_CONNS", "")
	t.Setenv("DATABASE_TIMEZONE", "UTC")

	cfg := ConfigFromEnv()
	assert.Equal(t, "postgres://db/astra", cfg.DSN)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 25, cfg.MaxIdleConns)
	assert.Equal(t, "UTC", cfg.TimeZone)
	assert.Equal(t, "astra-auth", cfg.ApplicationName)
}
