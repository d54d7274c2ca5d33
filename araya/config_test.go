package araya

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	config.Discord.Token = "test-token"
	assert.NoError(t, config.Validate())
}

func TestConfigValidateMissingToken(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	assert.Error(t, config.Validate())
}

func TestConfigValidateDatabaseType(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	config.Discord.Token = "test-token"
	config.DatabaseType = "mysql"
	assert.Error(t, config.Validate())

	config.DatabaseType = dbTypePostgres
	assert.NoError(t, config.Validate())
}

func TestConfigValidateTimeouts(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	config.Discord.Token = "test-token"
	config.Araya.Timeout = 0
	assert.Error(t, config.Validate())
}

func TestDefaultConfigValues(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	assert.Equal(t, dbTypeSQLite, config.DatabaseType)
	assert.Equal(t, slog.LevelInfo, config.LogLevel.Level())
	assert.Equal(t, DefaultCommandPrefix, config.Discord.CommandPrefix)
	assert.Equal(t, DefaultArayaAPIURL, config.Araya.URL)
	assert.Equal(t, time.Minute, config.XP.MessageXPInterval)
	assert.Equal(t, DefaultChannelHistorySize, config.XP.ChannelHistorySize)
	assert.Equal(t, DefaultHistoryContextSize, config.XP.HistoryContextSize)
	assert.Equal(t, DefaultAPIListen, config.API.Listen)
	assert.NotEmpty(t, config.API.CORS.AllowMethods)
}

func TestConfigLogValueRedactsToken(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	config.Discord.Token = "super-secret"
	config.API.OpenAIKey = "openai-secret"

	rendered := config.LogValue().String()
	require.NotContains(t, rendered, "super-secret")
	require.NotContains(t, rendered, "openai-secret")
}
