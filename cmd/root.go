package cmd

import (
	"context"
	"fmt"
	"github.com/Paradise-Lost-Developer-Team/Recap-Samurai/recapsamurai"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
	"time"
)

var (
	cfg        = recapsamurai.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "recapsamurai [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					mapstructure.StringToTimeHookFunc(time.RFC3339),
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

	viper.SetDefault("database", recapsamurai.DefaultDatabase)
	viper.SetDefault("database_type", recapsamurai.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		recapsamurai.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		recapsamurai.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", recapsamurai.DefaultLogLevel.String())

	viper.SetDefault("startup_timeout", recapsamurai.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", recapsamurai.DefaultShutdownTimeout)

	viper.SetDefault("keywords", recapsamurai.DefaultAlertKeywords)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault(
		"discord.log_level",
		recapsamurai.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		recapsamurai.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		recapsamurai.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault(
		"discord.startup_message",
		recapsamurai.DefaultDiscordStartupMessage,
	)
	viper.SetDefault(
		"discord.custom_status",
		recapsamurai.DefaultDiscordCustomStatus,
	)

	// Summarizer config
	viper.SetDefault(
		"summarizer.log_level",
		recapsamurai.DefaultSummarizerLogLevel.String(),
	)
	viper.SetDefault("summarizer.token", "")
	viper.SetDefault("summarizer.model", recapsamurai.DefaultSummaryModel)
	viper.SetDefault("summarizer.alternate_model", "")
	viper.SetDefault("summarizer.timeout", recapsamurai.DefaultSummaryTimeout)
	viper.SetDefault(
		"summarizer.max_requests_per_second",
		recapsamurai.DefaultSummaryMaxRequestsPerSecond,
	)

	// Scheduler config
	viper.SetDefault(
		"scheduler.log_level",
		recapsamurai.DefaultSchedulerLogLevel.String(),
	)
	viper.SetDefault("scheduler.timezone", recapsamurai.DefaultSchedulerTimezone)
	viper.SetDefault(
		"scheduler.weekly_digest_cron",
		recapsamurai.DefaultWeeklyDigestCron,
	)
	viper.SetDefault(
		"scheduler.headline_daily_cron",
		recapsamurai.DefaultHeadlineDailyCron,
	)
	viper.SetDefault(
		"scheduler.headline_weekly_cron",
		recapsamurai.DefaultHeadlineWeeklyCron,
	)
	viper.SetDefault(
		"scheduler.headline_monthly_cron",
		recapsamurai.DefaultHeadlineMonthlyCron,
	)
	viper.SetDefault(
		"scheduler.premium_report_cron",
		recapsamurai.DefaultPremiumReportCron,
	)
	viper.SetDefault(
		"scheduler.retention_cron",
		recapsamurai.DefaultRetentionCron,
	)
	viper.SetDefault(
		"scheduler.retention_max_age",
		recapsamurai.DefaultRetentionMaxAge,
	)

	// API config
	viper.SetDefault("api.log_level", recapsamurai.DefaultAPILogLevel.String())
	viper.SetDefault("api.listen", recapsamurai.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.read_timeout", recapsamurai.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		recapsamurai.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", recapsamurai.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", recapsamurai.DefaultIdleTimeout)
	viper.SetDefault("api.allow_origins", []string{})

	// API: Patreon config
	viper.SetDefault("api.patreon.client_id", "")
	viper.SetDefault("api.patreon.client_secret", "")
	viper.SetDefault("api.patreon.redirect_uri", "")
	viper.SetDefault("api.patreon.token_url", recapsamurai.DefaultPatreonTokenURL)
	viper.SetDefault(
		"api.patreon.identity_url",
		recapsamurai.DefaultPatreonIdentityURL,
	)

	envPrefix := os.Getenv(recapsamurai.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = recapsamurai.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set("keywords", viper.GetStringSlice("keywords"))
	viper.Set(
		"api.allow_origins",
		viper.GetStringSlice("api.allow_origins"),
	)

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"summarizer.log_level",
		"scheduler.log_level",
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
