package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/npezzotti/go-roomchat/internal/api"
	"github.com/npezzotti/go-roomchat/internal/config"
	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/npezzotti/go-roomchat/internal/filter"
	"github.com/npezzotti/go-roomchat/internal/server"
	"github.com/npezzotti/go-roomchat/internal/stats"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	v       = config.NewViper()
)

var rootCmd = &cobra.Command{
	Use:           "go-roomchat",
	Short:         "Room based websocket chat server",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}

		return serve(cmd.Context(), cfg, newLogger(cfg.Log))
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}

		logger := newLogger(cfg.Log)
		if err := migrate(cfg.Database, logger); err != nil {
			return err
		}
		logger.Info().Str("driver", cfg.Database.Driver).Msg("migrations applied")
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.String("addr", "localhost:8000", "server address")
	flags.StringSlice("allowed-origins", nil, "comma-separated list of allowed origins for CORS")
	flags.String("db-driver", "postgres", "database driver: postgres, sqlite3 or memory")
	flags.String("dsn", "", "database connection string")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "console", "log format: console or json")

	bindFlag(flags.Lookup("addr"), "addr")
	bindFlag(flags.Lookup("allowed-origins"), "allowed_origins")
	bindFlag(flags.Lookup("db-driver"), "database.driver")
	bindFlag(flags.Lookup("dsn"), "database.dsn")
	bindFlag(flags.Lookup("log-level"), "log.level")
	bindFlag(flags.Lookup("log-format"), "log.format")

	rootCmd.AddCommand(migrateCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if err := migrate(cfg.Database, logger); err != nil {
		return err
	}

	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("db close")
		}
	}()

	textFilter, err := filter.New(filter.Policy(cfg.Filter.Policy), cfg.Filter.Words)
	if err != nil {
		return fmt.Errorf("filter: %w", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, db, textFilter, statsUpdater, server.Options{
		IdleTimeout:       cfg.Room.IdleTimeout,
		BacklogLimit:      cfg.Room.BacklogLimit,
		MaxMessageSize:    cfg.WebSocket.MaxMessageSize,
		RateLimitBurst:    cfg.WebSocket.RateLimit.Burst,
		RateLimitInterval: cfg.WebSocket.RateLimit.RefillInterval,
	})
	if err != nil {
		return fmt.Errorf("new chat server: %w", err)
	}

	app := api.NewGoChatApp(mux, logger, chatServer, db, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		chatServer.Run()
		return nil
	})

	g.Go(func() error {
		if err := app.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.Shutdown(shutdownCtx); err != nil {
			return err
		}

		logger.Info().Msg("shutting down chat server...")
		if err := chatServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("chat server shutdown: %w", err)
		}

		logger.Info().Msg("shutdown complete")
		return nil
	})

	return g.Wait()
}

func migrate(cfg config.DatabaseConfig, logger zerolog.Logger) error {
	if cfg.Driver == database.DriverMemory {
		logger.Debug().Msg("memory database, skipping migrations")
		return nil
	}

	if err := database.Migrate(cfg.Driver, cfg.DSN); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	return logger.Level(level).With().Timestamp().Logger()
}

func bindFlag(f *pflag.Flag, key string) {
	if err := v.BindPFlag(key, f); err != nil {
		panic(err)
	}
}
