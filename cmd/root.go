package cmd

import (
	"context"
	"fmt"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/nxnxha/RnGM/rencontre"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
)

var (
	cfg        = rencontre.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "rencontre [flags]",
	Short: "Miri Rencontre discord bot",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(cfg, viper.DecodeHook(configDecodeHook()))
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
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

// configDecodeHook converts env strings into durations, space-separated
// lists and log levels
func configDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(" "),
		LevelToStringHookFunc(),
	)
}

// LevelToStringHookFunc decodes level names into *slog.LevelVar fields
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
		if t.Elem() != reflect.TypeOf(slog.LevelVar{}) {
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
	if err := rootCmd.ExecuteContext(ctx); err != nil {
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

	viper.SetDefault("database", rencontre.DefaultDatabase)
	viper.SetDefault("database_type", rencontre.DefaultDatabaseType)
	viper.SetDefault("database_slow_threshold", rencontre.DefaultDatabaseSlowThreshold)
	viper.SetDefault("database_log_level", rencontre.DefaultDatabaseLogLevel.String())
	viper.SetDefault("log_level", rencontre.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", rencontre.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", rencontre.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.log_level", rencontre.DefaultDiscordLogLevel.String())
	viper.SetDefault("discord.discordgo_log_level", rencontre.DefaultDiscordgoLogLevel.String())
	viper.SetDefault("discord.gateway_intents", rencontre.DefaultDiscordGatewayIntent)
	viper.SetDefault("discord.custom_status", rencontre.DefaultDiscordCustomStatus)
	viper.SetDefault("discord.access_role_id", "")
	viper.SetDefault("discord.channels.women", "")
	viper.SetDefault("discord.channels.men", "")
	viper.SetDefault("discord.channels.speed_dating", "")
	viper.SetDefault("discord.channels.logs", "")
	viper.SetDefault("discord.channels.welcome", "")

	// Onboarding questionnaire
	viper.SetDefault("onboarding.session_timeout", rencontre.DefaultOnboardingSessionTimeout)
	viper.SetDefault("onboarding.sweep_interval", rencontre.DefaultOnboardingSweepInterval)
	viper.SetDefault("onboarding.start_policy", string(rencontre.DefaultOnboardingStartPolicy))

	// Speed dating
	viper.SetDefault("speed_dating.cooldown", rencontre.DefaultSpeedDatingCooldown)
	viper.SetDefault("speed_dating.default_duration", rencontre.DefaultSpeedDatingDuration)
	viper.SetDefault("speed_dating.group_size", rencontre.DefaultSpeedDatingGroupSize)
	viper.SetDefault("speed_dating.max_groups", rencontre.DefaultSpeedDatingMaxGroups)
	viper.SetDefault("speed_dating.delete_after", rencontre.DefaultSpeedDatingDeleteAfter)
	viper.SetDefault("speed_dating.name_prefix", rencontre.DefaultSpeedDatingNamePrefix)
	viper.SetDefault("speed_dating.warning_lead", rencontre.DefaultSpeedDatingWarningLead)

	// Profile card interactions
	viper.SetDefault("interactions.like_cooldown", rencontre.DefaultLikeCooldown)
	viper.SetDefault("interactions.contact_cooldown", rencontre.DefaultContactCooldown)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", rencontre.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.secret", "")
	viper.SetDefault("api.log_level", rencontre.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", rencontre.DefaultReadTimeout)
	viper.SetDefault("api.read_header_timeout", rencontre.DefaultReadHeaderTimeout)
	viper.SetDefault("api.write_timeout", rencontre.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", rencontre.DefaultIdleTimeout)
	viper.SetDefault("api.development", false)

	fatalErr := func(err error) {
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}

	// API: SSL config
	fatalErr(viper.BindEnv("api.ssl.cert_file"))
	fatalErr(viper.BindEnv("api.ssl.key_file"))
	viper.SetDefault("api.ssl.tls_min_version", rencontre.DefaultAPITLSMinVersion)

	// API: CORS config
	viper.SetDefault("api.cors.allow_headers", rencontre.DefaultCORSAllowHeaders)
	viper.SetDefault("api.cors.allow_methods", rencontre.DefaultCORSAllowMethods)
	viper.SetDefault("api.cors.expose_headers", rencontre.DefaultCORSExposeHeaders)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", rencontre.DefaultCORSMaxAge)
	viper.SetDefault("api.cors.allow_credentials", rencontre.DefaultAPICORSAllowCredentials)

	envPrefix := os.Getenv(rencontre.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = rencontre.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Values are only validated here. Anything passed to viper.Set would
	// take precedence over the environment on the next load.
	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"api.log_level",
	} {
		if _, err := getLogLevel(viper.GetString(key)); err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
	}
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
