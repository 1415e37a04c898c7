//nolint:lll // struct tags can't be split
package rencontre

import (
	"crypto/tls"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"log/slog"
	"net/http"
	"time"
)

const (
	EnvvarSetEnvPrefix     = "RENCONTRE_ENV_PREFIX"
	DefaultEnvPrefix       = "MR"
	DefaultDatabaseType    = "sqlite"
	DefaultDatabase        = "rencontre.sqlite3"
	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultDiscordGatewayIntent = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsDirectMessages
	DefaultDiscordLogLevel     = slog.LevelWarn
	DefaultDiscordgoLogLevel   = slog.LevelWarn
	DefaultDiscordCustomStatus = "Miri Rencontre 🌹"

	DefaultOnboardingSessionTimeout = 20 * time.Minute
	DefaultOnboardingSweepInterval  = time.Minute
	DefaultOnboardingStartPolicy    = StartPolicyReplace

	DefaultSpeedDatingCooldown    = 5 * time.Minute
	DefaultSpeedDatingDuration    = 20 * time.Minute
	DefaultSpeedDatingGroupSize   = 2
	DefaultSpeedDatingMaxGroups   = 5
	DefaultSpeedDatingDeleteAfter = true
	DefaultSpeedDatingNamePrefix  = "Speed ⏳"
	DefaultSpeedDatingWarningLead = time.Minute

	DefaultLikeCooldown    = 10 * time.Minute
	DefaultContactCooldown = 10 * time.Minute

	DefaultAPIListen               = "127.0.0.1:5000"
	DefaultAPILogLevel             = slog.LevelInfo
	DefaultAPITLSMinVersion        = tls.VersionTLS12
	DefaultAPICORSAllowCredentials = false

	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelWarn
	defaultListenNetwork         = "tcp"
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		xRequestIDHeader,
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

type Config struct {
	// Database connection string, or SQLite file path
	Database string `yaml:"database" mapstructure:"database" json:"database" binding:"required"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout limits the time allowed to open the database and
	// connect to the discord gateway.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout" binding:"min=1s"`

	// ShutdownTimeout is the time allowed for in-flight handlers and
	// speed dating closures to finish after a stop signal.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	Discord      *DiscordConfig      `yaml:"discord" mapstructure:"discord" json:"discord" binding:"required"`
	Onboarding   *OnboardingConfig   `yaml:"onboarding" mapstructure:"onboarding" json:"onboarding" binding:"required"`
	SpeedDating  *SpeedDatingConfig  `yaml:"speed_dating" mapstructure:"speed_dating" json:"speed_dating" binding:"required"`
	Interactions *InteractionsConfig `yaml:"interactions" mapstructure:"interactions" json:"interactions" binding:"required"`
	API          *APIConfig          `yaml:"api" mapstructure:"api" json:"api" binding:"required"`

	HTTPClient *http.Client `json:"-" log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID is the server the bot serves. Slash commands are registered
	// to this guild, and profile cards are published in its channels.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id" binding:"required"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. GuildMembers is required to observe members
	// leaving the server.
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// Status shown under the bot's name
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// AccessRoleID is granted when a profile is completed, and removed
	// when it's deleted
	AccessRoleID string `yaml:"access_role_id" mapstructure:"access_role_id" json:"access_role_id"`

	Channels DiscordChannels `yaml:"channels" mapstructure:"channels" json:"channels"`

	httpClient *http.Client
}

// DiscordChannels holds the IDs of the guild channels the bot posts to.
// Any of them may be empty, in which case the related feature is skipped.
type DiscordChannels struct {
	// Profile cards tagged with the female gender
	Women string `yaml:"women" mapstructure:"women" json:"women"`

	// Every other profile card
	Men string `yaml:"men" mapstructure:"men" json:"men"`

	// Parent channel for speed dating threads
	SpeedDating string `yaml:"speed_dating" mapstructure:"speed_dating" json:"speed_dating"`

	// Event log
	Logs string `yaml:"logs" mapstructure:"logs" json:"logs"`

	// Channel holding the welcome panel with the start button
	Welcome string `yaml:"welcome" mapstructure:"welcome" json:"welcome"`
}

// OnboardingConfig configures the DM profile questionnaire.
type OnboardingConfig struct {
	// Sessions idle for longer than this are discarded
	SessionTimeout time.Duration `yaml:"session_timeout" mapstructure:"session_timeout" json:"session_timeout" binding:"min=1m"`

	// How often stale sessions are swept
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval" json:"sweep_interval" binding:"min=1s"`

	// What happens when a user starts the questionnaire while already
	// in the middle of it
	StartPolicy StartPolicy `yaml:"start_policy" mapstructure:"start_policy" json:"start_policy" binding:"oneof=replace reject"`
}

// SpeedDatingConfig configures the speed dating scheduler and the
// defaults of the /speeddating command.
type SpeedDatingConfig struct {
	// Minimum time between two runs
	Cooldown time.Duration `yaml:"cooldown" mapstructure:"cooldown" json:"cooldown"`

	// Duration used when the command doesn't specify one
	DefaultDuration time.Duration `yaml:"default_duration" mapstructure:"default_duration" json:"default_duration" binding:"min=1m"`

	// Members per conversation
	GroupSize int `yaml:"group_size" mapstructure:"group_size" json:"group_size" binding:"min=2,max=10"`

	// Maximum number of conversations per run, 0=unlimited
	MaxGroups int `yaml:"max_groups" mapstructure:"max_groups" json:"max_groups" binding:"min=0"`

	// Delete threads at the end of a run, rather than archiving and locking them
	DeleteAfter bool `yaml:"delete_after" mapstructure:"delete_after" json:"delete_after"`

	// Prepended to each thread name
	NamePrefix string `yaml:"name_prefix" mapstructure:"name_prefix" json:"name_prefix"`

	// Remaining time at which the warning is sent
	WarningLead time.Duration `yaml:"warning_lead" mapstructure:"warning_lead" json:"warning_lead" binding:"min=1s"`
}

// InteractionsConfig holds the defaults for profile card cooldowns.
// Values changed with /setcooldown are persisted and take precedence.
type InteractionsConfig struct {
	LikeCooldown    time.Duration `yaml:"like_cooldown" mapstructure:"like_cooldown" json:"like_cooldown" binding:"min=1m"`
	ContactCooldown time.Duration `yaml:"contact_cooldown" mapstructure:"contact_cooldown" json:"contact_cooldown" binding:"min=1m"`
}

// APIConfig configures the admin/status API server
type APIConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Bearer token required on /api routes. If empty, those routes are
	// served without authentication.
	Secret string `yaml:"secret" mapstructure:"secret" json:"secret" log:"[redacted]"`

	// Configuration for SSL/TLS. TLS is only enabled when both a
	// certificate and a key are set.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Serves pprof handlers under /debug/pprof
	Development bool `yaml:"development" mapstructure:"development" json:"development"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"required_if=Enabled true"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"required_if=Enabled true"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"required_if=Enabled true"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	CertFile      string `yaml:"cert_file" mapstructure:"cert_file" json:"cert_file"`
	KeyFile       string `yaml:"key_file" mapstructure:"key_file" json:"key_file"`
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
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
	cfg := cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowAllOrigins = true
	}
	return cfg
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	defaultExpose := make([]string, len(DefaultCORSExposeHeaders))
	copy(defaultExpose, DefaultCORSExposeHeaders)

	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     defaultMethods,
		AllowHeaders:     defaultHeaders,
		ExposeHeaders:    defaultExpose,
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
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
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			CustomStatus:      DefaultDiscordCustomStatus,
		},
		Onboarding: &OnboardingConfig{
			SessionTimeout: DefaultOnboardingSessionTimeout,
			SweepInterval:  DefaultOnboardingSweepInterval,
			StartPolicy:    DefaultOnboardingStartPolicy,
		},
		SpeedDating: &SpeedDatingConfig{
			Cooldown:        DefaultSpeedDatingCooldown,
			DefaultDuration: DefaultSpeedDatingDuration,
			GroupSize:       DefaultSpeedDatingGroupSize,
			MaxGroups:       DefaultSpeedDatingMaxGroups,
			DeleteAfter:     DefaultSpeedDatingDeleteAfter,
			NamePrefix:      DefaultSpeedDatingNamePrefix,
			WarningLead:     DefaultSpeedDatingWarningLead,
		},
		Interactions: &InteractionsConfig{
			LikeCooldown:    DefaultLikeCooldown,
			ContactCooldown: DefaultContactCooldown,
		},
		API: &APIConfig{
			Listen:        DefaultAPIListen,
			ListenNetwork: defaultListenNetwork,
			SSL: SSLConfig{
				TLSMinVersion: DefaultAPITLSMinVersion,
			},
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}
