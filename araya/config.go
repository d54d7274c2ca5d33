//nolint:lll // struct tags can't be split
package araya

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"github.com/go-playground/validator/v10"
	openai "github.com/sashabaranov/go-openai"
)

const (
	EnvvarSetEnvPrefix = "ARAYA_ENV_PREFIX"
	DefaultEnvPrefix   = "ARAYA"

	DefaultDatabaseType          = "sqlite"
	DefaultDatabase              = "araya.sqlite3"
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelInfo

	DefaultLogLevel          = slog.LevelInfo
	DefaultDiscordLogLevel   = slog.LevelWarn
	DefaultDiscordgoLogLevel = slog.LevelWarn
	DefaultAPILogLevel       = slog.LevelInfo

	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultCommandPrefix        = "!"
	DefaultDiscordGatewayIntent = discordgo.IntentsAllWithoutPrivileged |
		discordgo.IntentMessageContent
	DefaultDiscordStartupMessage = "I'm here!"
	DefaultDiscordCustomStatus   = `mention me, or just say "araya"`
	DefaultDiscordErrorMessage   = "Something went wrong. Try again in a moment!"

	// discordMaxMessageLength is Discord's hard cap on message content
	discordMaxMessageLength = 2000

	DefaultArayaAPIURL     = "http://127.0.0.1:6666/chat"
	DefaultArayaAPITimeout = 30 * time.Second
	DefaultHealthTimeout   = 5 * time.Second

	// DefaultMessageXPInterval limits how often chatting earns message XP,
	// so spam can't farm the ladder
	DefaultMessageXPInterval  = time.Minute
	DefaultChannelHistorySize = 20
	DefaultHistoryContextSize = 5

	DefaultAPIListen         = "127.0.0.1:6666"
	defaultListenNetwork     = "tcp"
	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultOpenAIModel     = openai.GPT3Dot5Turbo
	DefaultDeepSeekModel   = "deepseek-chat"
	DefaultDeepSeekBaseURL = "https://api.deepseek.com/v1"
	DefaultChatMaxTokens   = 500
	DefaultChatTemperature = 0.7
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-Requested-With",
		"Cache-Control",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		xRequestIDHeader,
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

type Config struct {
	// Database connection string, or SQLite file path
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" validate:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout limits the time the bot has to initialize. If this is
	// passed, the bot aborts startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown, after
	// which connections are force-closed.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// Discord configures the bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Araya configures the client side of the conversational API relay
	Araya *ArayaClientConfig `yaml:"araya" mapstructure:"araya" json:"araya"`

	// API configures the ARAYA conversational API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// XP configures engagement rewards
	XP *XPConfig `yaml:"xp" mapstructure:"xp" json:"xp"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// Validate checks the config's binding tags and returns a joined error
// for anything out of range.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" validate:"required"`

	// GuildID limits command handling to a single guild when set
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// CommandPrefix starts prefix commands (ex: '!ping')
	CommandPrefix string `yaml:"command_prefix" mapstructure:"command_prefix" json:"command_prefix" validate:"required"`

	// NotificationChannelID, when set, receives the startup message on connect
	NotificationChannelID string `yaml:"notification_channel_id" mapstructure:"notification_channel_id" json:"notification_channel_id"`

	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// Discord gateway intents. Message content is a privileged intent and
	// must also be enabled in the dev portal.
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	httpClient *http.Client
}

// ArayaClientConfig configures the relay's HTTP client for the
// conversational API.
type ArayaClientConfig struct {
	// URL of the chat endpoint (ARAYA_API_URL)
	URL string `yaml:"url" mapstructure:"url" json:"url" validate:"required,url"`

	// Timeout bounds each chat call; a timeout degrades to the fallback
	// response rather than erroring the interaction
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout" validate:"min=1s"`

	// HealthTimeout bounds !status health probes
	HealthTimeout time.Duration `yaml:"health_timeout" mapstructure:"health_timeout" json:"health_timeout" validate:"min=1s"`
}

// XPConfig tunes engagement rewards and message analysis.
type XPConfig struct {
	// MessageXPInterval is the minimum gap between message-XP grants per
	// user. Zero disables message XP entirely.
	MessageXPInterval time.Duration `yaml:"message_xp_interval" mapstructure:"message_xp_interval" json:"message_xp_interval"`

	// ChannelHistorySize is how many entries of per-channel history are
	// retained for relay context
	ChannelHistorySize int `yaml:"channel_history_size" mapstructure:"channel_history_size" json:"channel_history_size" validate:"min=0"`

	// HistoryContextSize is how many recent entries are sent as context
	HistoryContextSize int `yaml:"history_context_size" mapstructure:"history_context_size" json:"history_context_size" validate:"min=0"`
}

// APIConfig configures the ARAYA conversational API server.
//
//nolint:lll // can't break tags
type APIConfig struct {
	// Enabled starts the API server alongside the bot. Disable when
	// pointing the relay at an externally hosted instance.
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" validate:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix")
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" validate:"required_if=Enabled true,oneof=tcp tcp4 tcp6 unix"`

	// The logging level for the API server
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Debug registers pprof routes on the API server
	Debug bool `yaml:"debug" mapstructure:"debug" json:"debug"`

	// OpenAIKey enables the OpenAI chat backend (OPENAI_API_KEY)
	OpenAIKey string `yaml:"openai_key" mapstructure:"openai_key" json:"openai_key" log:"[redacted]"`

	// DeepSeekKey enables the DeepSeek chat backend (DEEPSEEK_API_KEY).
	// DeepSeek is tried first - it's the cheapest.
	DeepSeekKey string `yaml:"deepseek_key" mapstructure:"deepseek_key" json:"deepseek_key" log:"[redacted]"`

	OpenAIModel     string `yaml:"openai_model" mapstructure:"openai_model" json:"openai_model"`
	DeepSeekModel   string `yaml:"deepseek_model" mapstructure:"deepseek_model" json:"deepseek_model"`
	DeepSeekBaseURL string `yaml:"deepseek_base_url" mapstructure:"deepseek_base_url" json:"deepseek_base_url"`

	// MaxTokens caps each backend completion
	MaxTokens int `yaml:"max_tokens" mapstructure:"max_tokens" json:"max_tokens" validate:"min=0"`

	Temperature float32 `yaml:"temperature" mapstructure:"temperature" json:"temperature"`

	// Maximum duration for reading the entire request, including the body
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" validate:"required_if=Enabled true,min=1s"`

	// Amount of time allowed to read request headers
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" validate:"required_if=Enabled true,min=1s"`

	// Maximum duration before timing out writes of the response
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" validate:"required_if=Enabled true,min=1s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" validate:"required_if=Enabled true,min=1s"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	defaultExpose := make([]string, len(DefaultCORSExposeHeaders))
	copy(defaultExpose, DefaultCORSExposeHeaders)

	return CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  defaultMethods,
		AllowHeaders:  defaultHeaders,
		ExposeHeaders: defaultExpose,
		MaxAge:        DefaultCORSMaxAge,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			CommandPrefix:     DefaultCommandPrefix,
			GatewayIntents:    DefaultDiscordGatewayIntent,
			StartupMessage:    DefaultDiscordStartupMessage,
			CustomStatus:      DefaultDiscordCustomStatus,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
		},
		Araya: &ArayaClientConfig{
			URL:           DefaultArayaAPIURL,
			Timeout:       DefaultArayaAPITimeout,
			HealthTimeout: DefaultHealthTimeout,
		},
		XP: &XPConfig{
			MessageXPInterval:  DefaultMessageXPInterval,
			ChannelHistorySize: DefaultChannelHistorySize,
			HistoryContextSize: DefaultHistoryContextSize,
		},
		API: &APIConfig{
			Enabled:           true,
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			CORS:              DefaultCORSConfig(),
			OpenAIModel:       DefaultOpenAIModel,
			DeepSeekModel:     DefaultDeepSeekModel,
			DeepSeekBaseURL:   DefaultDeepSeekBaseURL,
			MaxTokens:         DefaultChatMaxTokens,
			Temperature:       DefaultChatTemperature,
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
	}
}
