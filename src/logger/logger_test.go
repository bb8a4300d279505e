package logger

import (
	"os"
	"path/filepath"
	"testing"

	"fuelbot/src/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLoggerRejectsUnknownLevel(t *testing.T) {
	err := InitLogger(model.LogConfig{Level: "loud"})
	require.Error(t, err)
}

func TestInitLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bot.log")
	require.NoError(t, InitLogger(model.LogConfig{Level: "debug", Format: "json", Output: "file", FilePath: path}))
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	log := Component("test")
	log.Info().Str("user_id", "42").Msg("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"test"`)
	assert.Contains(t, string(data), `"user_id":"42"`)
}
