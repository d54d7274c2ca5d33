package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/overkillkulture/araya-discord-bot/araya"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = araya.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "araya [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", araya.DefaultDatabase)
	viper.SetDefault("database_type", araya.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		araya.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		araya.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", araya.DefaultLogLevel.String())

	viper.SetDefault("startup_timeout", araya.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", araya.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.command_prefix", araya.DefaultCommandPrefix)
	viper.SetDefault("discord.notification_channel_id", "")
	viper.SetDefault("discord.startup_message", araya.DefaultDiscordStartupMessage)
	viper.SetDefault("discord.custom_status", araya.DefaultDiscordCustomStatus)
	viper.SetDefault(
		"discord.log_level",
		araya.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		araya.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		araya.DefaultDiscordGatewayIntent,
	)

	// Relay client config
	viper.SetDefault("araya.url", araya.DefaultArayaAPIURL)
	viper.SetDefault("araya.timeout", araya.DefaultArayaAPITimeout)
	viper.SetDefault("araya.health_timeout", araya.DefaultHealthTimeout)

	// XP config
	viper.SetDefault("xp.message_xp_interval", araya.DefaultMessageXPInterval)
	viper.SetDefault("xp.channel_history_size", araya.DefaultChannelHistorySize)
	viper.SetDefault("xp.history_context_size", araya.DefaultHistoryContextSize)

	// API config
	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.listen", araya.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.log_level", araya.DefaultAPILogLevel.String())
	viper.SetDefault("api.debug", false)
	viper.SetDefault("api.openai_key", "")
	viper.SetDefault("api.deepseek_key", "")
	viper.SetDefault("api.openai_model", araya.DefaultOpenAIModel)
	viper.SetDefault("api.deepseek_model", araya.DefaultDeepSeekModel)
	viper.SetDefault("api.deepseek_base_url", araya.DefaultDeepSeekBaseURL)
	viper.SetDefault("api.max_tokens", araya.DefaultChatMaxTokens)
	viper.SetDefault("api.temperature", araya.DefaultChatTemperature)
	viper.SetDefault("api.read_timeout", araya.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		araya.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", araya.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", araya.DefaultIdleTimeout)

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		araya.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		araya.DefaultCORSAllowMethods,
	)
	viper.SetDefault(
		"api.cors.expose_headers",
		araya.DefaultCORSExposeHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_origins",
		[]string{},
	)
	viper.SetDefault("api.cors.max_age", araya.DefaultCORSMaxAge)
	viper.SetDefault("api.cors.allow_credentials", false)

	fatalErr := func(err error) {
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}

	envPrefix := os.Getenv(araya.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = araya.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Legacy unprefixed variable names, kept so existing deployments
	// don't need their environment rewritten
	fatalErr(viper.BindEnv("discord.token", "ARAYA_DISCORD_TOKEN", "DISCORD_TOKEN"))
	fatalErr(viper.BindEnv("database", "ARAYA_DATABASE", "SUPABASE_URL"))
	fatalErr(viper.BindEnv("araya.url", "ARAYA_ARAYA_URL", "ARAYA_API_URL"))
	fatalErr(viper.BindEnv("api.openai_key", "ARAYA_API_OPENAI_KEY", "OPENAI_API_KEY"))
	fatalErr(viper.BindEnv("api.deepseek_key", "ARAYA_API_DEEPSEEK_KEY", "DEEPSEEK_API_KEY"))

	// Convert values to correct types
	viper.Set(
		"api.cors.allow_headers",
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	viper.Set(
		"api.cors.expose_headers",
		viper.GetStringSlice("api.cors.expose_headers"),
	)

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"api.log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//goland:noinspection GoLinter,GoLinter
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
