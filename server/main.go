// Command server runs the capture relay: the signaling websocket, the shared
// session state and the participant records API.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aryan-ct/memedin/pkg/records"
	"github.com/aryan-ct/memedin/pkg/records/sqlite"
	"github.com/aryan-ct/memedin/pkg/relay"
	"github.com/aryan-ct/memedin/pkg/session"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	root, err := newRootCmd()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() (*cobra.Command, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	cmd := &cobra.Command{
		Use:          "memedin-server",
		Short:        "Capture relay and participant records server",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the records database")

	cmd.AddCommand(newServeCmd(cfg))
	cmd.AddCommand(newEmployeesCmd(cfg))
	return cmd, nil
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

func newServeCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	cmd.Flags().StringVar(&cfg.SessionBackend, "session-backend", cfg.SessionBackend, "Session store backend (memory, badger, redis)")
	cmd.Flags().StringVar(&cfg.BadgerDir, "badger-dir", cfg.BadgerDir, "Badger directory; empty keeps badger in memory")
	cmd.Flags().StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for the redis backend")
	cmd.Flags().StringSliceVar(&cfg.ICEServers, "ice-server", cfg.ICEServers, "ICE server URLs announced to endpoints")
	cmd.Flags().IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "Outbound message queue per endpoint")

	return cmd
}

func runServe(ctx context.Context, cfg *Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	store, err := session.New(ctx, backend)
	if err != nil {
		return err
	}
	defer store.Close()

	repo, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	hub := relay.NewHub(store,
		relay.WithICEServers(cfg.ICEServers),
		relay.WithQueueSize(cfg.QueueSize),
	)

	log.Info().
		Str("backend", cfg.SessionBackend).
		Str("db", cfg.DBPath).
		Str("selected", store.Selection()).
		Msg("Session store ready")

	return NewServer(cfg, store, hub, repo).Start(ctx)
}

// openBackend opens the configured session backend
func openBackend(ctx context.Context, cfg *Config) (session.Backend, error) {
	switch cfg.SessionBackend {
	case BackendBadger:
		return session.OpenBadger(cfg.BadgerDir)
	case BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		return session.NewRedisBackend(client), nil
	default:
		return session.NewMemoryBackend(), nil
	}
}

func newEmployeesCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "employees",
		Short: "Manage participant records",
	}
	cmd.AddCommand(newEmployeesListCmd(cfg))
	cmd.AddCommand(newEmployeesAddCmd(cfg))
	return cmd
}

func newEmployeesListCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List participant records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRecords(cfg, func(repo records.Repository) error {
				list, err := repo.List(cmd.Context())
				if err != nil {
					return err
				}
				for _, r := range list {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\timage=%t\n", r.ID, r.Name, r.Caption, r.ImageURL != "")
				}
				return nil
			})
		},
	}
}

func newEmployeesAddCmd(cfg *Config) *cobra.Command {
	var name, caption string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a participant record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRecords(cfg, func(repo records.Repository) error {
				r, err := repo.Create(cmd.Context(), records.Record{Name: name, Caption: caption})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), r.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Participant name")
	cmd.Flags().StringVar(&caption, "caption", "", "Caption shown with the picture")
	return cmd
}

func withRecords(cfg *Config, fn func(records.Repository) error) error {
	repo, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer repo.Close()
	return fn(repo)
}
