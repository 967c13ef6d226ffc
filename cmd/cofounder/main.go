package main

import (
	"context"
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/cofounder/internal/config"
	"github.com/ChamsBouzaiene/cofounder/internal/store"
)

var configPath string

func main() {
	// .env is optional
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("cofounder: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cofounder",
		Short: "Autonomous technical co-founder that builds and ships an MVP",
		Long: `cofounder runs the build agent for a founder's project inside a
sandbox, pausing for the daily budget and escalating when it gets stuck.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: user config dir/cofounder/config.yaml)")

	root.AddCommand(
		newRunCmd(),
		newWakeCmd(),
		newCheckpointCmd(),
		newSubscriptionCmd(),
		newEscalationsCmd(),
	)
	return root
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.NewManagerAt(configPath).Load()
	}
	m, err := config.NewManager()
	if err != nil {
		return nil, err
	}
	return m.Load()
}

func openStore(ctx context.Context, cfg *config.Config) (*store.DB, error) {
	return store.Open(ctx, cfg.Store.Path, store.WithKeepCheckpoints(cfg.Store.KeepCheckpoints))
}

// openRedis connects to cfg.RedisURL. It returns nil, nil when Redis is
// not configured.
func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis unavailable at %s: %w", cfg.RedisURL, err)
	}
	return rdb, nil
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}

func stderr(cmd *cobra.Command) *log.Logger {
	return log.New(cmd.ErrOrStderr(), "", log.LstdFlags)
}
