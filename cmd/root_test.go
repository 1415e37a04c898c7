package cmd

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/nxnxha/RnGM/rencontre"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// loadConfig runs the root command with the given args, starting from a
// clean viper instance
func loadConfig(t testing.TB, args ...string) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
}

func TestLoadConfigFromEnvFile(t *testing.T) {
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
	os.Clearenv()

	envFile := filepath.Join(t.TempDir(), "test.env")

	envContent := `
# General/database config

MR_DATABASE=/home/foo/rencontre.sqlite3
MR_DATABASE_TYPE=sqlite
MR_DATABASE_LOG_LEVEL=INFO
MR_DATABASE_SLOW_THRESHOLD=200ms
MR_LOG_LEVEL=INFO
MR_STARTUP_TIMEOUT=30s
MR_SHUTDOWN_TIMEOUT=60s

# Discord bot config

MR_DISCORD_TOKEN=your-discord-bot-token
MR_DISCORD_APPLICATION_ID=your-discord-bot-app-id
MR_DISCORD_GUILD_ID=111
MR_DISCORD_LOG_LEVEL=WARN
MR_DISCORD_DISCORDGO_LOG_LEVEL=WARN
MR_DISCORD_CUSTOM_STATUS="Ensemble, ça matche"
MR_DISCORD_GATEWAY_INTENTS=4611
MR_DISCORD_ACCESS_ROLE_ID=222
MR_DISCORD_CHANNELS_WOMEN=301
MR_DISCORD_CHANNELS_MEN=302
MR_DISCORD_CHANNELS_SPEED_DATING=303
MR_DISCORD_CHANNELS_LOGS=304
MR_DISCORD_CHANNELS_WELCOME=305

# Onboarding

MR_ONBOARDING_SESSION_TIMEOUT=15m
MR_ONBOARDING_SWEEP_INTERVAL=30s
MR_ONBOARDING_START_POLICY=reject

# Speed dating

MR_SPEED_DATING_COOLDOWN=10m
MR_SPEED_DATING_DEFAULT_DURATION=30m
MR_SPEED_DATING_GROUP_SIZE=3
MR_SPEED_DATING_MAX_GROUPS=8
MR_SPEED_DATING_DELETE_AFTER=false
MR_SPEED_DATING_NAME_PREFIX=Soirée
MR_SPEED_DATING_WARNING_LEAD=2m

# Profile cards

MR_INTERACTIONS_LIKE_COOLDOWN=5m
MR_INTERACTIONS_CONTACT_COOLDOWN=15m

# API server

MR_API_ENABLED=true
MR_API_LISTEN=127.0.0.1:5050
MR_API_SSL_CERT_FILE=/etc/ssl/cert.pem
MR_API_SSL_KEY_FILE=/etc/ssl/key.pem
MR_API_SSL_TLS_MIN_VERSION=771
MR_API_SECRET=your-api-secret
MR_API_LOG_LEVEL=DEBUG
MR_API_CORS_ALLOW_ORIGINS=https://127.0.0.1:5000 https://localhost:5000
MR_API_CORS_ALLOW_METHODS=GET POST OPTIONS HEAD
MR_API_CORS_ALLOW_CREDENTIALS=true
MR_API_CORS_MAX_AGE=12h
MR_API_READ_TIMEOUT=5s
MR_API_READ_HEADER_TIMEOUT=5s
MR_API_WRITE_TIMEOUT=10s
MR_API_IDLE_TIMEOUT=30s
`
	require.NoError(t, os.WriteFile(envFile, []byte(envContent), 0644))

	loadConfig(t, fmt.Sprintf("--config=%s", envFile), "version")

	assert.Equal(t, "/home/foo/rencontre.sqlite3", cfg.Database)
	assert.Equal(t, "sqlite", viper.GetString("database_type"))
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel.Level())
	assert.Equal(t, slog.LevelInfo, cfg.DatabaseLogLevel.Level())
	assert.Equal(t, slog.LevelWarn, cfg.Discord.LogLevel.Level())
	assert.Equal(t, slog.LevelWarn, cfg.Discord.DiscordGoLogLevel.Level())
	assert.Equal(t, slog.LevelDebug, cfg.API.LogLevel.Level())
	assert.Equal(t, "DEBUG", viper.GetString("api.log_level"))
	assert.Equal(t, 200*time.Millisecond, viper.GetDuration("database_slow_threshold"))
	assert.Equal(t, "Ensemble, ça matche", viper.GetString("discord.custom_status"))
	assert.Equal(t, 4611, viper.GetInt("discord.gateway_intents"))
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		viper.GetStringSlice("api.cors.allow_origins"),
	)

	var config rencontre.Config
	err := viper.Unmarshal(&config, viper.DecodeHook(configDecodeHook()))
	require.NoError(t, err)

	assert.Equal(t, "/home/foo/rencontre.sqlite3", config.Database)
	assert.Equal(t, "sqlite", config.DatabaseType)
	assert.Equal(t, slog.LevelInfo, config.DatabaseLogLevel.Level())
	assert.Equal(t, 200*time.Millisecond, config.DatabaseSlowThreshold)
	assert.Equal(t, 30*time.Second, config.StartupTimeout)
	assert.Equal(t, 60*time.Second, config.ShutdownTimeout)

	assert.Equal(t, "your-discord-bot-token", config.Discord.Token)
	assert.Equal(t, "your-discord-bot-app-id", config.Discord.ApplicationID)
	assert.Equal(t, "111", config.Discord.GuildID)
	assert.Equal(t, "222", config.Discord.AccessRoleID)
	assert.Equal(t, discordgo.Intent(4611), config.Discord.GatewayIntents)
	assert.Equal(
		t,
		rencontre.DiscordChannels{
			Women:       "301",
			Men:         "302",
			SpeedDating: "303",
			Logs:        "304",
			Welcome:     "305",
		},
		config.Discord.Channels,
	)

	assert.Equal(t, 15*time.Minute, config.Onboarding.SessionTimeout)
	assert.Equal(t, 30*time.Second, config.Onboarding.SweepInterval)
	assert.Equal(t, rencontre.StartPolicyReject, config.Onboarding.StartPolicy)

	assert.Equal(t, 10*time.Minute, config.SpeedDating.Cooldown)
	assert.Equal(t, 30*time.Minute, config.SpeedDating.DefaultDuration)
	assert.Equal(t, 3, config.SpeedDating.GroupSize)
	assert.Equal(t, 8, config.SpeedDating.MaxGroups)
	assert.False(t, config.SpeedDating.DeleteAfter)
	assert.Equal(t, "Soirée", config.SpeedDating.NamePrefix)
	assert.Equal(t, 2*time.Minute, config.SpeedDating.WarningLead)

	assert.Equal(t, 5*time.Minute, config.Interactions.LikeCooldown)
	assert.Equal(t, 15*time.Minute, config.Interactions.ContactCooldown)

	assert.True(t, config.API.Enabled)
	assert.Equal(t, "127.0.0.1:5050", config.API.Listen)
	assert.Equal(t, "/etc/ssl/cert.pem", config.API.SSL.CertFile)
	assert.Equal(t, "/etc/ssl/key.pem", config.API.SSL.KeyFile)
	assert.Equal(t, uint16(771), config.API.SSL.TLSMinVersion)
	assert.Equal(t, "your-api-secret", config.API.Secret)
	assert.Equal(t, slog.LevelDebug, config.API.LogLevel.Level())
	assert.Equal(t, []string{"GET", "POST", "OPTIONS", "HEAD"}, config.API.CORS.AllowMethods)
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		config.API.CORS.AllowOrigins,
	)
	assert.True(t, config.API.CORS.AllowCredentials)
	assert.Equal(t, 12*time.Hour, config.API.CORS.MaxAge)
	assert.Equal(t, 10*time.Second, config.API.WriteTimeout)
}

func TestGetLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "WARN", want: slog.LevelWarn},
		{input: "ERROR", want: slog.LevelError},
		{input: "verbose", want: slog.LevelInfo, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(
			tc.input, func(t *testing.T) {
				got, err := getLogLevel(tc.input)
				if tc.wantErr {
					assert.Error(t, err)
				} else {
					assert.NoError(t, err)
				}
				assert.Equal(t, tc.want, got)
			},
		)
	}
}

func TestInitConfig_ReloadReadsEnvironment(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("MR_LOG_LEVEL", "WARN")
	t.Setenv("MR_API_CORS_ALLOW_ORIGINS", "https://a.example")
	rootCmd.SetArgs([]string{"--config=", "version"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel.Level())
	assert.Equal(t, []string{"https://a.example"}, cfg.API.CORS.AllowOrigins)

	// a second load on the same viper instance still sees env changes
	t.Setenv("MR_LOG_LEVEL", "ERROR")
	t.Setenv("MR_API_CORS_ALLOW_ORIGINS", "https://b.example https://c.example")
	rootCmd.SetArgs([]string{"--config=", "version"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, slog.LevelError, cfg.LogLevel.Level())
	assert.Equal(t, []string{"https://b.example", "https://c.example"}, cfg.API.CORS.AllowOrigins)
	assert.Equal(t, "ERROR", viper.GetString("log_level"))
}
