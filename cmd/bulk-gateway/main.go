package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/Sternrassler/bulk-request-client/pkg/client"
	"github.com/Sternrassler/bulk-request-client/pkg/logging"
	"github.com/Sternrassler/bulk-request-client/pkg/store"
)

const exampleUsage = `  bulk-gateway --base-url https://api.example.com/v2 --redis-addr localhost:6379
  bulk-gateway --config /etc/bulk-gateway/config.toml
  BULK_BASE_URL=https://api.example.com/v2 bulk-gateway --max-rounds 3`

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logger := logging.NewLogger("gateway")
		logger.Error().Err(err).Msg("bulk-gateway")
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:           "bulk-gateway",
		Short:         "HTTP gateway that splits bulk submissions into bounded waves",
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, &cfg, cfgPath); err != nil {
				return err
			}

			level, _ := logging.ParseLevel(cfg.LogLevel)
			logging.Setup(logging.Config{
				Level:   level,
				Pretty:  cfg.LogPretty,
				Output:  os.Stderr,
				Service: "bulk-gateway",
			})

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg)
		},
	}

	flags := root.Flags()
	flags.StringVar(&cfgPath, "config", "", "path to TOML config file")
	flags.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address")
	flags.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address")
	flags.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "Redis database")
	flags.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "base URL of the bulk API")
	flags.StringVar(&cfg.UserAgent, "user-agent", cfg.UserAgent, "User-Agent sent to the bulk API")
	flags.StringVar(&cfg.AuthToken, "auth-token", cfg.AuthToken, "bearer token for the bulk API")
	flags.IntVar(&cfg.QuotaThreshold, "quota-threshold", cfg.QuotaThreshold, "block requests below this remaining quota")
	flags.DurationVar(&cfg.HTTPTimeout, "timeout", cfg.HTTPTimeout, "timeout per bulk call")
	flags.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "attempts per bulk call for retryable failures")
	flags.IntVar(&cfg.MaxBatchSize, "max-batch-size", cfg.MaxBatchSize, "maximum items per bulk call")
	flags.IntVar(&cfg.MaxRounds, "max-rounds", cfg.MaxRounds, "sessions per submission, including resubmissions of retryable failures")
	flags.StringVar(&cfg.Policy, "policy", cfg.Policy, "whole-call failure policy (fail_batch, abandon)")
	flags.IntVar(&cfg.MaxItems, "max-items", cfg.MaxItems, "maximum items per submission")
	flags.DurationVar(&cfg.SessionTTL, "session-ttl", cfg.SessionTTL, "how long session reports are kept")
	flags.DurationVar(&cfg.WaveTimeout, "wave-timeout", cfg.WaveTimeout, "limit for one bulk call including retries (0 derives it from timeout, max-attempts and backoff)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.BoolVar(&cfg.LogPretty, "log-pretty", cfg.LogPretty, "human-readable log output")

	return root
}

// loadConfig layers the config file and BULK_* environment below the flags
// set on cmd, then validates the result.
func loadConfig(cmd *cobra.Command, cfg *Config, cfgPath string) error {
	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgPath != "" {
		if !FileExists(cfgPath) {
			return fmt.Errorf("config file %s not found", cfgPath)
		}
		fc, err := LoadFileConfig(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := ApplyFileConfig(cfg, fc, changed); err != nil {
			return err
		}
	}

	if err := ApplyEnvConfig(cfg, changed); err != nil {
		return err
	}

	return cfg.Validate()
}

// clientConfig maps the gateway settings onto the bulk client.
func clientConfig(cfg Config, redisClient *redis.Client) client.Config {
	clientCfg := client.DefaultConfig(redisClient, cfg.BaseURL, cfg.UserAgent)
	clientCfg.AuthToken = cfg.AuthToken
	clientCfg.QuotaThreshold = cfg.QuotaThreshold
	clientCfg.Timeout = cfg.HTTPTimeout
	clientCfg.MaxAttempts = cfg.MaxAttempts
	return clientCfg
}

// run serves the gateway until ctx ends.
func run(ctx context.Context, cfg Config) error {
	logger := logging.NewLogger("gateway")

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")

	logger.Debug().
		Str("base_url", cfg.BaseURL).
		Str("user_agent", cfg.UserAgent).
		Bool("auth_token_set", cfg.AuthToken != "").
		Int("quota_threshold", cfg.QuotaThreshold).
		Int("max_rounds", cfg.MaxRounds).
		Int("max_items", cfg.MaxItems).
		Dur("session_ttl", cfg.SessionTTL).
		Msg("Gateway configuration")

	bulkClient, err := client.New(clientConfig(cfg, redisClient))
	if err != nil {
		return fmt.Errorf("create bulk client: %w", err)
	}
	defer bulkClient.Close()

	srv := newServer(cfg, bulkClient, store.NewManager(redisClient), redisClient)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Str("base_url", cfg.BaseURL).
			Int("max_batch_size", cfg.MaxBatchSize).
			Str("policy", cfg.Policy).
			Msg("Starting bulk gateway")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	return httpServer.Shutdown(shutdownCtx)
}
