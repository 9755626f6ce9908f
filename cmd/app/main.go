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

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/keygate/internal/app"
	"github.com/atvirokodosprendimai/keygate/internal/core/domain"
	"github.com/atvirokodosprendimai/keygate/internal/logging"
)

func main() {
	cmd := &cli.Command{
		Name:  "keygate",
		Usage: "API-key admission, monthly usage metering and tier catalog",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   ":8080",
				Sources: cli.EnvVars("KEYGATE_ADDR"),
				Usage:   "HTTP listen address",
			},
			&cli.StringFlag{
				Name:    "db-path",
				Value:   "./keygate.sqlite",
				Sources: cli.EnvVars("KEYGATE_DB_PATH"),
				Usage:   "SQLite file path",
			},
			&cli.StringFlag{
				Name:    "admin-token",
				Sources: cli.EnvVars("KEYGATE_ADMIN_TOKEN"),
				Usage:   "Bearer token for owner key and catalog admin routes (empty disables them)",
			},
			&cli.StringFlag{
				Name:    "stripe-secret-key",
				Sources: cli.EnvVars("KEYGATE_STRIPE_SECRET_KEY", "STRIPE_SECRET_KEY"),
				Usage:   "Stripe secret key; without it static tiers are served",
			},
			&cli.DurationFlag{
				Name:    "tier-cache-ttl",
				Value:   5 * time.Minute,
				Sources: cli.EnvVars("KEYGATE_TIER_CACHE_TTL"),
				Usage:   "How long resolved tiers are cached",
			},
			&cli.DurationFlag{
				Name:    "tier-liveness-ttl",
				Value:   time.Minute,
				Sources: cli.EnvVars("KEYGATE_TIER_LIVENESS_TTL"),
				Usage:   "How long the active product list used by tier lookups is cached",
			},
			&cli.StringFlag{
				Name:    "cache-backend",
				Value:   app.CacheBackendNone,
				Sources: cli.EnvVars("KEYGATE_CACHE_BACKEND"),
				Usage:   "Shared response cache store: none, sqlite or redis",
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Sources: cli.EnvVars("KEYGATE_REDIS_URL"),
				Usage:   "Redis URL for the redis cache backend",
			},
			&cli.DurationFlag{
				Name:    "response-cache-ttl",
				Value:   time.Minute,
				Sources: cli.EnvVars("KEYGATE_RESPONSE_CACHE_TTL"),
				Usage:   "How long cached product listings are served",
			},
			&cli.DurationFlag{
				Name:    "cache-janitor-interval",
				Value:   time.Minute,
				Sources: cli.EnvVars("KEYGATE_CACHE_JANITOR_INTERVAL"),
				Usage:   "How often expired cache entries are purged",
			},
			&cli.IntFlag{
				Name:    "monthly-limit-min",
				Value:   domain.DefaultMonthlyLimitBounds.Min,
				Sources: cli.EnvVars("KEYGATE_MONTHLY_LIMIT_MIN"),
				Usage:   "Lower bound applied to stored monthly limits",
			},
			&cli.IntFlag{
				Name:    "monthly-limit-max",
				Value:   domain.DefaultMonthlyLimitBounds.Max,
				Sources: cli.EnvVars("KEYGATE_MONTHLY_LIMIT_MAX"),
				Usage:   "Upper bound applied to stored monthly limits",
			},
			&cli.StringFlag{
				Name:    "usage-timezone",
				Value:   "UTC",
				Sources: cli.EnvVars("KEYGATE_USAGE_TIMEZONE"),
				Usage:   "IANA zone that decides which month a request is billed to",
			},
			&cli.StringFlag{
				Name:    "webhook-url",
				Sources: cli.EnvVars("KEYGATE_WEBHOOK_URL"),
				Usage:   "Key and usage event webhook target URL (events are logged when empty)",
			},
			&cli.StringFlag{
				Name:    "webhook-secret",
				Sources: cli.EnvVars("KEYGATE_WEBHOOK_SECRET"),
				Usage:   "HMAC-SHA256 signing secret for outbound webhook requests",
			},
			&cli.DurationFlag{
				Name:    "outbox-interval",
				Value:   2 * time.Second,
				Sources: cli.EnvVars("KEYGATE_OUTBOX_INTERVAL"),
				Usage:   "Outbox polling interval",
			},
			&cli.StringFlag{
				Name:    "bootstrap-api-key",
				Sources: cli.EnvVars("KEYGATE_BOOTSTRAP_API_KEY"),
				Usage:   "Optional API key to register at startup",
			},
			&cli.StringFlag{
				Name:    "bootstrap-owner",
				Value:   "default",
				Sources: cli.EnvVars("KEYGATE_BOOTSTRAP_OWNER"),
				Usage:   "Owner of the bootstrap API key",
			},
			&cli.StringFlag{
				Name:    "bootstrap-key-name",
				Value:   "bootstrap",
				Sources: cli.EnvVars("KEYGATE_BOOTSTRAP_KEY_NAME"),
				Usage:   "Name for the bootstrap API key",
			},
			&cli.IntFlag{
				Name:    "bootstrap-monthly-limit",
				Sources: cli.EnvVars("KEYGATE_BOOTSTRAP_MONTHLY_LIMIT"),
				Usage:   "Monthly limit for the bootstrap key (0 leaves it unmetered)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Sources: cli.EnvVars("KEYGATE_LOG_LEVEL"),
				Usage:   "debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:    "log-file",
				Sources: cli.EnvVars("KEYGATE_LOG_FILE"),
				Usage:   "Optional rotating log file, written in addition to stdout",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			logCfg := logging.DefaultConfig()
			logCfg.Level = c.String("log-level")
			logCfg.File = c.String("log-file")
			logger, syncLogs, err := logging.New(logCfg)
			if err != nil {
				return err
			}
			defer func() { _ = syncLogs() }()

			cfg := app.Config{
				Addr:                  c.String("addr"),
				DBPath:                c.String("db-path"),
				AdminToken:            c.String("admin-token"),
				StripeSecretKey:       c.String("stripe-secret-key"),
				TierCacheTTL:          c.Duration("tier-cache-ttl"),
				LivenessTTL:           c.Duration("tier-liveness-ttl"),
				CacheBackend:          c.String("cache-backend"),
				RedisURL:              c.String("redis-url"),
				ResponseCacheTTL:      c.Duration("response-cache-ttl"),
				JanitorInterval:       c.Duration("cache-janitor-interval"),
				MonthlyLimitMin:       c.Int("monthly-limit-min"),
				MonthlyLimitMax:       c.Int("monthly-limit-max"),
				UsageTimezone:         c.String("usage-timezone"),
				WebhookURL:            c.String("webhook-url"),
				WebhookSecret:         c.String("webhook-secret"),
				OutboxInterval:        c.Duration("outbox-interval"),
				BootstrapAPIKey:       c.String("bootstrap-api-key"),
				BootstrapOwner:        c.String("bootstrap-owner"),
				BootstrapKeyName:      c.String("bootstrap-key-name"),
				BootstrapMonthlyLimit: c.Int("bootstrap-monthly-limit"),
				Logger:                logger,
			}

			server, closer, err := app.NewServer(ctx, cfg)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}
			defer func() {
				if closeErr := closer.Close(); closeErr != nil {
					logger.Error("close resources", zap.Error(closeErr))
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", zap.String("addr", cfg.Addr))
				errCh <- server.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case sig := <-sigCh:
				logger.Info("received signal", zap.String("signal", sig.String()))
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
