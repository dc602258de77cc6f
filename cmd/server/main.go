// Package main is the entry point for the snippet sharing server.
//
// MAIN PACKAGE IN GO:
// Every Go program starts execution in the main() function of the "main" package.
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (flags, env vars, an optional config file)
// 2. Create the logger
// 3. Start the application
//
// All actual logic lives in imported packages (internal/server, internal/handler, etc.).
//
// CONFIGURATION PRECEDENCE (highest first):
//
//	flag  →  SNIPPETS_* env var  →  config file  →  default
//
// e.g. --port 9090, SNIPPETS_HTTP_PORT=9090, or "http: {port: 9090}" in the file.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sakif/snippet-share/internal/config"
	"github.com/sakif/snippet-share/internal/logging"
	"github.com/sakif/snippet-share/internal/server"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "snippets",
		Short: "Code snippet sharing server",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd)
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to a configuration file (yaml, json or toml)")
	flags.Int("port", defaults.GetInt("http.port"), "HTTP listen port")
	flags.String("db", defaults.GetString("backend.url"), "SQLite database path (backend.url)")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("log-format", defaults.GetString("log.format"), "Log format (text, json)")
	flags.Bool("secure-cookies", defaults.GetBool("http.secure_cookies"), "Mark session cookies Secure (HTTPS only)")

	bindFlag(cmd, "http.port", "port")
	bindFlag(cmd, "backend.url", "db")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "http.secure_cookies", "secure-cookies")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("snippets")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

func run(cmd *cobra.Command) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if f := viper.ConfigFileUsed(); f != "" {
		logger.Info("loaded config file", slog.String("path", f))
	}
	for _, key := range cfg.Placeholders {
		logger.Warn("using placeholder configuration, set it before deploying", slog.String("key", key))
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		return err
	}

	// Start blocks until the server is shut down (via Ctrl+C or SIGTERM).
	if err := srv.Start(cmd.Context()); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		return err
	}
	return nil
}
