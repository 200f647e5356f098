package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/eringen/pubsched"
)

var flagEnvFile string

var rootCmd = &cobra.Command{
	Use:           "pubsched",
	Short:         "Scheduled publishing for a static blog",
	Long:          "pubsched queues markdown posts with a publish time and renders them into a static site once they are due.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env", ".env", "path to a .env file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(postCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pubsched %s (commit: %s)\n", version, commit)
	},
}

// loadEnv reads the .env file. A missing default file is not an error.
func loadEnv(cmd *cobra.Command) error {
	err := godotenv.Load(flagEnvFile)
	if err != nil && errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("env") {
		return nil
	}
	return err
}

func loadConfig() (pubsched.SiteConfig, error) {
	loc, err := time.LoadLocation(pubsched.EnvOr("TIMEZONE", "UTC"))
	if err != nil {
		return pubsched.SiteConfig{}, fmt.Errorf("TIMEZONE: %w", err)
	}
	interval, err := time.ParseDuration(pubsched.EnvOr("PUBLISH_INTERVAL", "1m"))
	if err != nil {
		return pubsched.SiteConfig{}, fmt.Errorf("PUBLISH_INTERVAL: %w", err)
	}
	return pubsched.SiteConfig{
		Name:            pubsched.EnvOr("SITE_NAME", "Blog"),
		URL:             pubsched.EnvOr("SITE_URL", "http://localhost:3000"),
		Description:     os.Getenv("SITE_DESCRIPTION"),
		SiteDir:         pubsched.EnvOr("SITE_DIR", "site"),
		QueueBackend:    pubsched.EnvOr("QUEUE_BACKEND", "file"),
		QueuePath:       os.Getenv("QUEUE_PATH"),
		TemplatePath:    os.Getenv("TEMPLATE_PATH"),
		Location:        loc,
		Addr:            pubsched.EnvOr("ADDR", ":3000"),
		AdminPassword:   os.Getenv("ADMIN_PASSWORD"),
		AdminAPIKey:     os.Getenv("ADMIN_API_KEY"),
		SessionSecret:   os.Getenv("SESSION_SECRET"),
		CookieSecure:    envBool("COOKIE_SECURE"),
		RedisURL:        os.Getenv("REDIS_URL"),
		PublishInterval: interval,
		Newsletter: pubsched.NewsletterConfig{
			ResendAPIKey: os.Getenv("RESEND_API_KEY"),
			From:         os.Getenv("NEWSLETTER_FROM"),
			SupabaseURL:  os.Getenv("SUPABASE_URL"),
			SupabaseKey:  os.Getenv("SUPABASE_SERVICE_KEY"),
		},
	}, nil
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && v
}

func newLogger() zerolog.Logger {
	return pubsched.NewLogger(pubsched.EnvOr("LOG_LEVEL", "info"), envBool("LOG_PRETTY"), os.Stderr)
}

// openApp loads the environment and configuration and builds the App.
func openApp(cmd *cobra.Command) (*pubsched.App, error) {
	if err := loadEnv(cmd); err != nil {
		return nil, fmt.Errorf("load %s: %w", flagEnvFile, err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return pubsched.New(cfg, pubsched.WithLogger(newLogger()))
}
