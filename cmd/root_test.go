package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertLogLevel(t testing.TB, expected slog.Level, v any) {
	t.Helper()

	lvl, ok := v.(*slog.LevelVar)
	require.Truef(t, ok, "could not convert %#v (%T) to *slog.LevelVar", v, v)
	assert.Equal(t, expected, lvl.Level())
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	// Save the original environment
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				os.Setenv(parts[0], parts[1])
			}
		},
	)

	// Clear the environment before the test
	os.Clearenv()

	tmpdir := t.TempDir()

	// Set up the test environment file
	envFile := filepath.Join(tmpdir, "test.env")

	envContent := `
# General/database config

ARAYA_DATABASE=/home/foo/araya.sqlite3
ARAYA_DATABASE_TYPE=sqlite
ARAYA_DATABASE_LOG_LEVEL=INFO
ARAYA_DATABASE_SLOW_THRESHOLD=200ms
ARAYA_LOG_LEVEL=INFO
ARAYA_STARTUP_TIMEOUT=30s
ARAYA_SHUTDOWN_TIMEOUT=60s

# Discord bot config

DISCORD_TOKEN=your-discord-bot-token
ARAYA_DISCORD_GUILD_ID=
ARAYA_DISCORD_COMMAND_PREFIX=!
ARAYA_DISCORD_NOTIFICATION_CHANNEL_ID=123456
ARAYA_DISCORD_LOG_LEVEL=WARN
ARAYA_DISCORD_DISCORDGO_LOG_LEVEL=WARN
ARAYA_DISCORD_STARTUP_MESSAGE="I'm here!"

# Relay client

ARAYA_API_URL=http://127.0.0.1:6666/chat
ARAYA_ARAYA_TIMEOUT=30s
ARAYA_ARAYA_HEALTH_TIMEOUT=5s

# XP config

ARAYA_XP_MESSAGE_XP_INTERVAL=1m
ARAYA_XP_CHANNEL_HISTORY_SIZE=20
ARAYA_XP_HISTORY_CONTEXT_SIZE=5

# API server

ARAYA_API_ENABLED=true
ARAYA_API_LISTEN=127.0.0.1:6666
ARAYA_API_LOG_LEVEL=DEBUG
OPENAI_API_KEY=your-openai-key
DEEPSEEK_API_KEY=your-deepseek-key
ARAYA_API_MAX_TOKENS=500
ARAYA_API_TEMPERATURE=0.7
ARAYA_API_READ_TIMEOUT=5s
ARAYA_API_READ_HEADER_TIMEOUT=5s
ARAYA_API_WRITE_TIMEOUT=10s
ARAYA_API_IDLE_TIMEOUT=30s
ARAYA_API_CORS_MAX_AGE=12h
`

	err := os.WriteFile(envFile, []byte(envContent), 0644)
	assert.NoError(t, err)

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/home/foo/araya.sqlite3", cfg.Database)
	assert.Equal(t, "/home/foo/araya.sqlite3", viper.GetString("database"))
	assert.Equal(t, "sqlite", viper.GetString("database_type"))

	assertLogLevel(t, slog.LevelInfo, viper.Get("database_log_level"))

	assert.Equal(t, 200*time.Millisecond, viper.GetDuration("database_slow_threshold"))
	assertLogLevel(t, slog.LevelInfo, viper.Get("log_level"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("startup_timeout"))
	assert.Equal(t, 60*time.Second, viper.GetDuration("shutdown_timeout"))

	assert.Equal(t, "your-discord-bot-token", viper.GetString("discord.token"))
	assert.Equal(t, "your-discord-bot-token", cfg.Discord.Token)
	assert.Equal(t, "!", cfg.Discord.CommandPrefix)
	assert.Equal(t, "123456", cfg.Discord.NotificationChannelID)
	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.log_level"))
	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.discordgo_log_level"))

	assert.Equal(t, "http://127.0.0.1:6666/chat", cfg.Araya.URL)
	assert.Equal(t, 30*time.Second, cfg.Araya.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Araya.HealthTimeout)

	assert.Equal(t, time.Minute, cfg.XP.MessageXPInterval)
	assert.Equal(t, 20, cfg.XP.ChannelHistorySize)
	assert.Equal(t, 5, cfg.XP.HistoryContextSize)

	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1:6666", cfg.API.Listen)
	assertLogLevel(t, slog.LevelDebug, viper.Get("api.log_level"))
	assert.Equal(t, "your-openai-key", cfg.API.OpenAIKey)
	assert.Equal(t, "your-deepseek-key", cfg.API.DeepSeekKey)
	assert.Equal(t, 500, cfg.API.MaxTokens)
	assert.InDelta(t, 0.7, cfg.API.Temperature, 0.001)
	assert.Equal(t, 5*time.Second, cfg.API.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.API.WriteTimeout)
	assert.Equal(t, 12*time.Hour, cfg.API.CORS.MaxAge)
}

func TestLevelToStringHook(t *testing.T) {
	for _, level := range []slog.Level{
		slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError,
	} {
		lvl, err := levelStringToLevelVar(level.String())
		require.NoError(t, err)
		assert.Equal(t, level, lvl.Level())
	}

	_, err := getLogLevel("NOPE")
	assert.Error(t, err)
}
