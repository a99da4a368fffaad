//nolint:lll // struct tags can't be split
package recapsamurai

import (
	"github.com/bwmarrin/discordgo"
	"log/slog"
	"net/http"
	"time"
)

const (
	EnvvarSetEnvPrefix = "RECAPSAMURAI_ENV_PREFIX"
	DefaultEnvPrefix   = "RECAP"

	DefaultDatabaseType           = "sqlite"
	DefaultDatabase               = "recapsamurai.sqlite3"
	DefaultDatabaseSlowThreshold  = 200 * time.Millisecond
	DefaultDatabaseLogLevel       = slog.LevelInfo
	DefaultLogLevel               = slog.LevelInfo
	DefaultDiscordLogLevel        = slog.LevelWarn
	DefaultDiscordgoLogLevel      = slog.LevelWarn
	DefaultSummarizerLogLevel     = slog.LevelInfo
	DefaultSchedulerLogLevel      = slog.LevelInfo
	DefaultAPILogLevel            = slog.LevelInfo
	DefaultStartupTimeout         = 30 * time.Second
	DefaultShutdownTimeout        = 60 * time.Second
	DefaultReadTimeout            = 5 * time.Second
	DefaultReadHeaderTimeout      = 5 * time.Second
	DefaultWriteTimeout           = 10 * time.Second
	DefaultIdleTimeout            = 30 * time.Second
	DefaultAPIListen              = "127.0.0.1:5000"
	defaultListenNetwork          = "tcp"
	DefaultPatreonTokenURL        = "https://www.patreon.com/api/oauth2/token"
	DefaultPatreonIdentityURL     = "https://www.patreon.com/api/oauth2/v2/identity"
	DefaultPatreonGrantDuration   = 31 * 24 * time.Hour
	DefaultDiscordStartupMessage  = "要約侍、参上！"
	DefaultDiscordCustomStatus    = "サーバーの会話を要約中"
	DefaultSummaryModel           = "gpt-3.5-turbo"
	DefaultSummaryTimeout         = 2 * time.Minute
	DefaultSummaryMaxRequestsPerSecond = 1

	// discordMaxMessageLength is the hard per-message length limit enforced
	// by the Discord transport, in characters.
	discordMaxMessageLength = 2000

	DefaultRetentionMaxAge = 30 * 24 * time.Hour

	DefaultWeeklyDigestCron    = "0 0 * * 1"
	DefaultHeadlineDailyCron   = "0 9 * * *"
	DefaultHeadlineWeeklyCron  = "0 10 * * 1"
	DefaultHeadlineMonthlyCron = "0 9 1 * *"
	DefaultPremiumReportCron   = "30 9 1 * *"
	DefaultRetentionCron       = "0 4 * * *"
	DefaultSchedulerTimezone   = "Asia/Tokyo"

	DiscordSlashCommandDigest    = "digest"
	DiscordSlashCommandSetup     = "setup"
	DiscordSlashCommandLogSearch = "logsearch"
	DiscordSlashCommandLogQA     = "logqa"
)

var (
	// DefaultAlertKeywords is the keyword set checked against every ingested
	// message. First match in this order wins.
	DefaultAlertKeywords = []string{"緊急", "トラブル", "質問"}

	// DefaultDiscordGatewayIntent covers everything the bot needs: guild
	// metadata for channel resolution, message events for ingestion, and
	// message content for the log itself (privileged, must be enabled in
	// the dev portal).
	DefaultDiscordGatewayIntent = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent
)

// Config is the top-level static configuration, loaded once at startup.
type Config struct {
	// Database connection string
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout limits the time the bot has to initialize. If exceeded,
	// startup is aborted.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time allowed for a graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// Keywords is the alert keyword set checked on every ingested message
	Keywords []string `yaml:"keywords" mapstructure:"keywords" json:"keywords"`

	// Discord configures the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Summarizer configures the generative-text backend
	Summarizer *SummarizerConfig `yaml:"summarizer" mapstructure:"summarizer" json:"summarizer"`

	// Scheduler configures the digest cadences
	Scheduler *SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler" json:"scheduler"`

	// API configures the HTTP server (health, Patreon OAuth callback)
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// StartupMessage is sent to a guild's delivery channel when the bot
	// is added to a new guild.
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// CustomStatus is the status text shown for the bot user
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

// SummarizerConfig configures the OpenAI-backed summarization adapter.
//
//nolint:lll // can't break tags
type SummarizerConfig struct {
	// OpenAI API token
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Model is the primary model identifier
	Model string `yaml:"model" mapstructure:"model" json:"model" binding:"required"`

	// AlternateModel, when set together with AlternateModelUntil, is used
	// instead of Model for every generation started before the cutover.
	AlternateModel string `yaml:"alternate_model" mapstructure:"alternate_model" json:"alternate_model"`

	// AlternateModelUntil is the cutover timestamp: the alternate model is
	// selected iff the current time is strictly before it.
	AlternateModelUntil time.Time `yaml:"alternate_model_until" mapstructure:"alternate_model_until" json:"alternate_model_until"`

	// Timeout bounds a single generation call. Expiry is treated as a
	// summarization failure for that guild.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout" binding:"min=1s"`

	// MaxRequestsPerSecond bounds the request rate to the backend
	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second"`

	// Summarizer base log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// SchedulerConfig holds one cron expression per cadence. Each cadence is an
// independent recurring trigger; there is no shared state across them other
// than the log store they all read.
//
//nolint:lll // can't break tags
type SchedulerConfig struct {
	// Timezone the cron expressions are evaluated in
	Timezone string `yaml:"timezone" mapstructure:"timezone" json:"timezone" binding:"required"`

	// WeeklyDigestCron triggers the full weekly digest (clears the log on success)
	WeeklyDigestCron string `yaml:"weekly_digest_cron" mapstructure:"weekly_digest_cron" json:"weekly_digest_cron" binding:"required"`

	// HeadlineDailyCron triggers the 24-hour headline summary
	HeadlineDailyCron string `yaml:"headline_daily_cron" mapstructure:"headline_daily_cron" json:"headline_daily_cron" binding:"required"`

	// HeadlineWeeklyCron triggers the 7-day headline summary
	HeadlineWeeklyCron string `yaml:"headline_weekly_cron" mapstructure:"headline_weekly_cron" json:"headline_weekly_cron" binding:"required"`

	// HeadlineMonthlyCron triggers the 30-day headline summary
	HeadlineMonthlyCron string `yaml:"headline_monthly_cron" mapstructure:"headline_monthly_cron" json:"headline_monthly_cron" binding:"required"`

	// PremiumReportCron triggers the monthly premium activity export
	PremiumReportCron string `yaml:"premium_report_cron" mapstructure:"premium_report_cron" json:"premium_report_cron" binding:"required"`

	// RetentionCron triggers the daily retention prune
	RetentionCron string `yaml:"retention_cron" mapstructure:"retention_cron" json:"retention_cron" binding:"required"`

	// RetentionMaxAge is the history limit applied to non-premium guilds
	RetentionMaxAge time.Duration `yaml:"retention_max_age" mapstructure:"retention_max_age" json:"retention_max_age" binding:"min=24h"`

	// Scheduler log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// APIConfig configures the backend HTTP server.
//
//nolint:lll // can't break tags
type APIConfig struct {
	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required,hostname|filepath"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required,oneof=tcp tcp4 tcp6 unix"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required,min=1s"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"required,min=1s"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"required,min=1s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"required,min=1s"`

	// AllowOrigins is passed through to the CORS middleware
	AllowOrigins []string `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`

	// Patreon holds the OAuth client settings for subscription linking
	Patreon PatreonConfig `yaml:"patreon" mapstructure:"patreon" json:"patreon"`
}

// PatreonConfig holds the Patreon OAuth client settings. When ClientID is
// empty, the OAuth callback route is disabled.
//
//nolint:lll // can't break tags
type PatreonConfig struct {
	ClientID     string `yaml:"client_id" mapstructure:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret" json:"client_secret" log:"[redacted]"`
	RedirectURI  string `yaml:"redirect_uri" mapstructure:"redirect_uri" json:"redirect_uri"`
	TokenURL     string `yaml:"token_url" mapstructure:"token_url" json:"token_url"`
	IdentityURL  string `yaml:"identity_url" mapstructure:"identity_url" json:"identity_url"`
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	summarizerLogLevel := &slog.LevelVar{}
	schedulerLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	summarizerLogLevel.Set(DefaultSummarizerLogLevel)
	schedulerLogLevel.Set(DefaultSchedulerLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	keywords := make([]string, len(DefaultAlertKeywords))
	copy(keywords, DefaultAlertKeywords)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Keywords:              keywords,
		Discord: &DiscordConfig{
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			GatewayIntents:    DefaultDiscordGatewayIntent,
			StartupMessage:    DefaultDiscordStartupMessage,
			CustomStatus:      DefaultDiscordCustomStatus,
		},
		Summarizer: &SummarizerConfig{
			Model:                DefaultSummaryModel,
			Timeout:              DefaultSummaryTimeout,
			MaxRequestsPerSecond: DefaultSummaryMaxRequestsPerSecond,
			LogLevel:             summarizerLogLevel,
		},
		Scheduler: &SchedulerConfig{
			Timezone:            DefaultSchedulerTimezone,
			WeeklyDigestCron:    DefaultWeeklyDigestCron,
			HeadlineDailyCron:   DefaultHeadlineDailyCron,
			HeadlineWeeklyCron:  DefaultHeadlineWeeklyCron,
			HeadlineMonthlyCron: DefaultHeadlineMonthlyCron,
			PremiumReportCron:   DefaultPremiumReportCron,
			RetentionCron:       DefaultRetentionCron,
			RetentionMaxAge:     DefaultRetentionMaxAge,
			LogLevel:            schedulerLogLevel,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			Patreon: PatreonConfig{
				TokenURL:    DefaultPatreonTokenURL,
				IdentityURL: DefaultPatreonIdentityURL,
			},
		},
	}
}
