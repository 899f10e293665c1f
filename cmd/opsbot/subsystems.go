package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/anf-aiops/opsbot/pkg/archive"
	"github.com/anf-aiops/opsbot/pkg/audit"
	"github.com/anf-aiops/opsbot/pkg/auth"
	"github.com/anf-aiops/opsbot/pkg/authz"
	"github.com/anf-aiops/opsbot/pkg/backend"
	"github.com/anf-aiops/opsbot/pkg/catalog"
	"github.com/anf-aiops/opsbot/pkg/compose"
	"github.com/anf-aiops/opsbot/pkg/config"
	"github.com/anf-aiops/opsbot/pkg/confirm"
	"github.com/anf-aiops/opsbot/pkg/database"
	"github.com/anf-aiops/opsbot/pkg/dispatch"
	"github.com/anf-aiops/opsbot/pkg/intent"
	"github.com/anf-aiops/opsbot/pkg/observability"
	"github.com/anf-aiops/opsbot/pkg/registry"
	"github.com/anf-aiops/opsbot/pkg/transport"
	"github.com/anf-aiops/opsbot/pkg/util/resiliency"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Services holds every wired subsystem of a running bot.
type Services struct {
	Config     *config.Config
	DB         *sql.DB
	Dialect    database.Dialect
	Catalog    *catalog.Catalog
	Registry   *registry.Registry
	Resolver   *intent.Resolver
	Confirm    confirm.Store
	Backend    backend.Backend
	Chain      *audit.Chain
	Archiver   *audit.Archiver // nil when archiving is off
	Audit      *audit.Async
	Telemetry  *observability.Provider
	Keys       *auth.Keys
	Limiter    *auth.RateLimiter
	Dispatcher *dispatch.Dispatcher
	Server     *transport.Server

	redis *confirm.RedisStore
	sql   *confirm.SQLStore
	wg    sync.WaitGroup
}

func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.RolesFile != "" {
		return catalog.LoadFile(cfg.RolesFile, catalog.WithAdminRole(cfg.AdminRole))
	}
	return catalog.New(cfg.AdminRole, catalog.DefaultRoles(), catalog.DefaultRules())
}

// NewServices wires the bot from cfg. On error everything opened so far is
// closed again.
func NewServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Services, err error) {
	svc := &Services{Config: cfg}
	defer func() {
		if err != nil {
			_ = svc.Close(context.WithoutCancel(ctx))
		}
	}()

	if svc.Keys, err = auth.DeriveKeys(cfg.SigningSecret); err != nil {
		return nil, err
	}

	if svc.Catalog, err = loadCatalog(cfg); err != nil {
		return nil, err
	}
	svc.Registry = registry.Default()
	vocab := intent.Vocabulary{Actions: svc.Registry.Actions(), Entities: svc.Registry.Entities()}
	if svc.Resolver, err = intent.NewResolver(vocab, intent.WithNamespace(cfg.CommandNamespace)); err != nil {
		return nil, err
	}

	if cfg.LiteMode() {
		logger.InfoContext(ctx, "DATABASE_URL not set, using lite mode", "sqlite_path", cfg.LitePath)
	}
	if svc.DB, svc.Dialect, err = database.Open(ctx, cfg.DatabaseURL, cfg.LitePath); err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "database connected", "dialect", svc.Dialect.String())

	if cfg.RedisURL != "" {
		if svc.redis, err = confirm.NewRedisStoreFromURL(cfg.RedisURL, cfg.ConfirmationTTL); err != nil {
			return nil, err
		}
		if err = svc.redis.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		svc.Confirm = svc.redis
		logger.InfoContext(ctx, "confirmation tickets in redis")
	} else {
		if svc.sql, err = confirm.NewSQLStore(ctx, svc.DB, svc.Dialect, cfg.ConfirmationTTL); err != nil {
			return nil, err
		}
		svc.Confirm = svc.sql
	}

	if cfg.MCPBaseURL != "" {
		svc.Backend = backend.NewHTTPClient(cfg.MCPBaseURL, cfg.MCPAPIKey, resiliency.NewClient("mcp"))
		logger.InfoContext(ctx, "operations backend", "url", cfg.MCPBaseURL)
	} else {
		svc.Backend = backend.NewMemory()
		logger.WarnContext(ctx, "MCP_BASE_URL not set, serving from an in-memory inventory")
	}

	sqlSink, err := audit.NewSQLSink(ctx, svc.DB, svc.Dialect)
	if err != nil {
		return nil, err
	}
	svc.Chain = audit.NewChain()
	sinks := []audit.Sink{audit.NewLogger(), sqlSink, svc.Chain}
	store, err := archive.New(ctx, cfg.Archive)
	if err != nil {
		return nil, err
	}
	if store != nil {
		svc.Archiver = audit.NewArchiver(store, 0)
		sinks = append(sinks, svc.Archiver)
		logger.InfoContext(ctx, "audit archive enabled", "kind", string(cfg.Archive.Kind))
	}
	svc.Audit = audit.NewAsync(audit.Multi(sinks...), 1024)

	otelCfg := observability.DefaultConfig()
	otelCfg.Enabled = cfg.OTelEnabled
	otelCfg.OTLPEndpoint = cfg.OTelEndpoint
	otelCfg.ServiceVersion = version
	if svc.Telemetry, err = observability.New(ctx, otelCfg); err != nil {
		return nil, err
	}

	svc.Dispatcher, err = dispatch.New(dispatch.Config{
		Resolver:        svc.Resolver,
		Authz:           authz.NewEngine(svc.Catalog),
		Registry:        svc.Registry,
		Confirm:         svc.Confirm,
		Backend:         svc.Backend,
		Audit:           svc.Audit,
		Tracker:         svc.Telemetry,
		ConfidenceFloor: cfg.ConfidenceFloor,
	})
	if err != nil {
		return nil, err
	}

	svc.Limiter = auth.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	svc.Server = transport.NewServer(svc.Dispatcher, compose.New(compose.WithNamespace(cfg.CommandNamespace)))
	svc.Server.AddReadinessCheck("database", svc.DB.PingContext)
	if svc.redis != nil {
		svc.Server.AddReadinessCheck("redis", svc.redis.Ping)
	}
	return svc, nil
}

// Handler is the full HTTP surface with its middleware chain.
func (s *Services) Handler() http.Handler {
	return s.Server.Handler(
		s.Telemetry.HTTPMiddleware,
		auth.NewMiddleware(s.Keys),
		s.Limiter.Middleware,
	)
}

// Start launches background maintenance loops. They stop when ctx ends.
func (s *Services) Start(ctx context.Context) {
	s.goRun(func() { s.Limiter.RunSweeper(ctx) })
	if s.sql != nil {
		s.goRun(func() { s.sql.RunSweeper(ctx, s.Config.ConfirmationTTL) })
	}
	if s.Archiver != nil {
		s.goRun(func() { s.Archiver.Run(ctx, s.Config.ArchiveFlushInterval) })
	}
}

func (s *Services) goRun(f func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		f()
	}()
}

// Close waits for background loops, drains the audit queue and releases
// connections. Cancel the Start context first.
func (s *Services) Close(ctx context.Context) error {
	s.wg.Wait()

	var errs []error
	if s.Audit != nil {
		errs = append(errs, s.Audit.Close(ctx))
	}
	if s.Archiver != nil {
		if _, err := s.Archiver.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Telemetry != nil {
		errs = append(errs, s.Telemetry.Shutdown(ctx))
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.DB != nil {
		errs = append(errs, s.DB.Close())
	}
	return errors.Join(errs...)
}
