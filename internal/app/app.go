package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/keygate/internal/adapters/events"
	"github.com/atvirokodosprendimai/keygate/internal/adapters/httpapi"
	"github.com/atvirokodosprendimai/keygate/internal/adapters/redisstore"
	sqliteadapter "github.com/atvirokodosprendimai/keygate/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/keygate/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/keygate/internal/adapters/stripecatalog"
	"github.com/atvirokodosprendimai/keygate/internal/cache"
	"github.com/atvirokodosprendimai/keygate/internal/core/domain"
	"github.com/atvirokodosprendimai/keygate/internal/core/ports"
	"github.com/atvirokodosprendimai/keygate/internal/core/usecase"
	"github.com/atvirokodosprendimai/keygate/internal/metrics"
	"github.com/atvirokodosprendimai/keygate/migrations"
)

const (
	CacheBackendNone   = "none"
	CacheBackendSQLite = "sqlite"
	CacheBackendRedis  = "redis"
)

type Config struct {
	Addr       string
	DBPath     string
	AdminToken string

	StripeSecretKey string
	TierCacheTTL    time.Duration
	LivenessTTL     time.Duration

	CacheBackend     string
	RedisURL         string
	ResponseCacheTTL time.Duration
	JanitorInterval  time.Duration

	MonthlyLimitMin int
	MonthlyLimitMax int
	UsageTimezone   string

	WebhookURL     string
	WebhookSecret  string
	OutboxInterval time.Duration

	BootstrapAPIKey       string
	BootstrapOwner        string
	BootstrapKeyName      string
	BootstrapMonthlyLimit int

	Logger *zap.Logger
}

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func NewServer(ctx context.Context, cfg Config) (*http.Server, io.Closer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	loc, err := usageLocation(cfg.UsageTimezone)
	if err != nil {
		return nil, nil, err
	}

	db, err := gormsqlite.Open(cfg.DBPath, gormsqlite.Options{Logger: logger})
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	closers := []io.Closer{db}
	fail := func(err error) (*http.Server, io.Closer, error) {
		_ = resourceCloser{closers: reverse(closers)}.Close()
		return nil, nil, err
	}

	writeSQLDB, err := db.WriteSQLDB()
	if err != nil {
		return fail(fmt.Errorf("resolve writer sql db: %w", err))
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	version, err := migrations.Up(migrateCtx, writeSQLDB)
	if err != nil {
		return fail(err)
	}
	logger.Info("database ready", zap.String("path", cfg.DBPath), zap.Int64("schema_version", version))

	m := metrics.New()
	apiKeyRepo := sqliteadapter.NewAPIKeyRepository(db)
	outboxRepo := sqliteadapter.NewOutboxRepository(db)

	var billing ports.BillingCatalog = stripecatalog.Empty{}
	if cfg.StripeSecretKey != "" {
		billing = stripecatalog.New(cfg.StripeSecretKey, logger.Named("stripe"))
	} else {
		logger.Info("no stripe key configured, serving static tiers")
	}

	remote, sqliteCache, remoteCloser, err := openRemoteStore(ctx, cfg, db)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, remoteCloser)

	localStore := cache.NewStore(time.Now)
	responses := cache.NewResponseCache(localStore, remote, logger.Named("response_cache"), m)
	tierStore := cache.NewStore(time.Now)
	tiers := usecase.NewTierCatalog(
		billing,
		cache.NewMemo("tiers", tierStore, m),
		usecase.TierCatalogConfig{TTL: cfg.TierCacheTTL, LivenessTTL: cfg.LivenessTTL},
		logger.Named("tiers"),
		m,
	)

	validator := usecase.NewKeyValidator(apiKeyRepo, logger.Named("validator"))
	bounds := domain.DefaultMonthlyLimitBounds
	if cfg.MonthlyLimitMin > 0 {
		bounds.Min = cfg.MonthlyLimitMin
	}
	if cfg.MonthlyLimitMax > 0 {
		bounds.Max = cfg.MonthlyLimitMax
	}
	meter := usecase.NewUsageMeter(validator, apiKeyRepo,
		usecase.WithLimitBounds(bounds),
		usecase.WithLocation(loc),
		usecase.WithMeterLogger(logger.Named("meter")),
		usecase.WithMeterMetrics(m),
	)
	keys := usecase.NewKeyService(apiKeyRepo, logger.Named("keys"))

	if cfg.BootstrapAPIKey != "" {
		if err := bootstrapKey(ctx, keys, cfg); err != nil {
			return fail(fmt.Errorf("bootstrap api key: %w", err))
		}
	}

	var publisher ports.EventPublisher = events.NewLogPublisher(logger.Named("events"))
	if cfg.WebhookURL != "" {
		publisher = events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, 0)
	}
	dispatcher := usecase.NewOutboxDispatcher(outboxRepo, publisher, usecase.OutboxDispatcherConfig{
		Interval: cfg.OutboxInterval,
	}, logger.Named("outbox"), m)
	dispatcher.Start(context.Background())
	closers = append(closers, dispatcher)

	j := newJanitor(cfg.JanitorInterval, localStore, tierStore, sqliteCache, logger.Named("janitor"))
	j.Start(context.Background())
	closers = append(closers, j)

	handler := httpapi.NewHandler(meter, tiers, keys, outboxRepo, responses, httpapi.Options{
		AdminToken:  cfg.AdminToken,
		HealthCheck: db.Ping,
		ResponseTTL: cfg.ResponseCacheTTL,
		Logger:      logger.Named("http"),
		Metrics:     m,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return server, resourceCloser{closers: reverse(closers)}, nil
}

func usageLocation(name string) (*time.Location, error) {
	if name == "" || strings.EqualFold(name, "UTC") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load usage timezone %q: %w", name, err)
	}
	return loc, nil
}

// openRemoteStore returns the shared response cache tier. The sqlite store
// is also returned so the janitor can purge it.
func openRemoteStore(ctx context.Context, cfg Config, db *gormsqlite.DB) (cache.RemoteStore, *sqliteadapter.CacheStore, io.Closer, error) {
	switch strings.ToLower(cfg.CacheBackend) {
	case "", CacheBackendNone:
		return nil, nil, nil, nil
	case CacheBackendSQLite:
		store := sqliteadapter.NewCacheStore(db)
		return store, store, nil, nil
	case CacheBackendRedis:
		if cfg.RedisURL == "" {
			return nil, nil, nil, fmt.Errorf("cache backend redis requires a redis url")
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		store, err := redisstore.New(pingCtx, cfg.RedisURL, "")
		if err != nil {
			return nil, nil, nil, err
		}
		return store, nil, store, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

func bootstrapKey(ctx context.Context, keys *usecase.KeyService, cfg Config) error {
	owner := cfg.BootstrapOwner
	if owner == "" {
		owner = "default"
	}
	name := cfg.BootstrapKeyName
	if name == "" {
		name = "bootstrap"
	}
	in := domain.NewKey{Name: name}
	if cfg.BootstrapMonthlyLimit > 0 {
		in.LimitEnabled = true
		in.MonthlyLimit = cfg.BootstrapMonthlyLimit
	}

	bootstrapCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := keys.Import(bootstrapCtx, owner, cfg.BootstrapAPIKey, in)
	return err
}

func reverse(closers []io.Closer) []io.Closer {
	out := make([]io.Closer, 0, len(closers))
	for i := len(closers) - 1; i >= 0; i-- {
		out = append(out, closers[i])
	}
	return out
}

// janitor evicts expired cache entries that are never read again.
type janitor struct {
	interval time.Duration
	local    []*cache.Store
	shared   *sqliteadapter.CacheStore
	log      *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newJanitor(interval time.Duration, local, tiers *cache.Store, shared *sqliteadapter.CacheStore, logger *zap.Logger) *janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &janitor{
		interval: interval,
		local:    []*cache.Store{local, tiers},
		shared:   shared,
		log:      logger,
	}
}

func (j *janitor) Start(parent context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	j.cancel = cancel
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.sweep(ctx)
			}
		}
	}()
}

func (j *janitor) sweep(ctx context.Context) {
	for _, s := range j.local {
		s.Purge()
	}
	if j.shared == nil {
		return
	}
	removed, err := j.shared.PurgeExpired(ctx)
	if err != nil {
		j.log.Warn("purge expired cache entries", zap.Error(err))
		return
	}
	if removed > 0 {
		j.log.Debug("purged expired cache entries", zap.Int64("removed", removed))
	}
}

func (j *janitor) Close() error {
	j.mu.Lock()
	cancel := j.cancel
	j.cancel = nil
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	j.wg.Wait()
	return nil
}
