package rencontre

import (
	"fmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const (
	testGuildID         = "guild"
	testChannelWomen    = "channel_women"
	testChannelMen      = "channel_men"
	testChannelSpeed    = "channel_speed"
	testChannelLogs     = "channel_logs"
	testChannelWelcome  = "channel_welcome"
	testAccessRoleID    = "role_rencontre"
	testAPISecret       = "aksdfjakjsfdajfefIJHShi sfEISHSIDF HSIHDF"
	testApplicationID   = "app"
	testDiscordBotToken = "token"
)

func DefaultTestConfig(t testing.TB) *Config {
	t.Helper()
	tmpdir := t.TempDir()
	cfg := DefaultConfig()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	cfg.DatabaseType = dbTypeSQLite
	cfg.Database = filepath.Join(tmpdir, fmt.Sprintf("%s.sqlite3", name))
	cfg.StartupTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 10 * time.Second

	cfg.Discord.Token = testDiscordBotToken
	cfg.Discord.ApplicationID = testApplicationID
	cfg.Discord.GuildID = testGuildID
	cfg.Discord.AccessRoleID = testAccessRoleID
	cfg.Discord.Channels = DiscordChannels{
		Women:       testChannelWomen,
		Men:         testChannelMen,
		SpeedDating: testChannelSpeed,
		Logs:        testChannelLogs,
		Welcome:     testChannelWelcome,
	}

	cfg.API.Listen = "127.0.0.1:0"
	cfg.API.Secret = testAPISecret
	cfg.API.CORS.AllowOrigins = []string{"*"}

	logLevel := slog.LevelWarn
	cfg.LogLevel.Set(logLevel)
	cfg.Discord.LogLevel.Set(logLevel)
	cfg.Discord.DiscordGoLogLevel.Set(logLevel)
	cfg.DatabaseLogLevel.Set(logLevel)
	cfg.API.LogLevel.Set(logLevel)

	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultDatabaseType, cfg.DatabaseType)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel.Level())
	assert.Equal(t, StartPolicyReplace, cfg.Onboarding.StartPolicy)
	assert.Equal(t, 20*time.Minute, cfg.Onboarding.SessionTimeout)
	assert.Equal(t, 5*time.Minute, cfg.SpeedDating.Cooldown)
	assert.Equal(t, 2, cfg.SpeedDating.GroupSize)
	assert.Equal(t, time.Minute, cfg.SpeedDating.WarningLead)
	assert.Equal(t, 10*time.Minute, cfg.Interactions.LikeCooldown)
	assert.Equal(t, 10*time.Minute, cfg.Interactions.ContactCooldown)
	assert.False(t, cfg.API.Enabled)

	// defaults are copied, not shared
	cfg.API.CORS.AllowMethods[0] = "PATCH"
	assert.NotEqual(t, "PATCH", DefaultCORSAllowMethods[0])
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultTestConfig(t)
	require.NoError(t, structValidator.Struct(cfg))

	cfg.Discord.Token = ""
	require.Error(t, structValidator.Struct(cfg))
	cfg.Discord.Token = testDiscordBotToken

	cfg.Onboarding.StartPolicy = "queue"
	require.Error(t, structValidator.Struct(cfg))
	cfg.Onboarding.StartPolicy = StartPolicyReject

	cfg.SpeedDating.GroupSize = 1
	require.Error(t, structValidator.Struct(cfg))
	cfg.SpeedDating.GroupSize = 3

	cfg.API.Enabled = true
	cfg.API.Listen = ""
	require.Error(t, structValidator.Struct(cfg))
	cfg.API.Listen = "127.0.0.1:0"

	require.NoError(t, structValidator.Struct(cfg))
}

func TestConfig_LogValueRedactsSecrets(t *testing.T) {
	cfg := DefaultTestConfig(t)
	v := cfg.LogValue().String()
	assert.NotContains(t, v, testAPISecret)
	assert.Contains(t, v, "[redacted]")
}

func TestCORSConfig_GINConfig(t *testing.T) {
	c := DefaultCORSConfig()
	assert.True(t, c.GINConfig().AllowAllOrigins)

	c.AllowOrigins = []string{"https://example.com"}
	gc := c.GINConfig()
	assert.False(t, gc.AllowAllOrigins)
	assert.Equal(t, []string{"https://example.com"}, gc.AllowOrigins)
}
