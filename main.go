package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/labmesh-io/labmesh-engine/pkg/config"
	"github.com/labmesh-io/labmesh-engine/pkg/database"
	"github.com/labmesh-io/labmesh-engine/pkg/handlers"
	"github.com/labmesh-io/labmesh-engine/pkg/migration"
	"github.com/labmesh-io/labmesh-engine/pkg/repositories"
	"github.com/labmesh-io/labmesh-engine/pkg/routing"
	"github.com/labmesh-io/labmesh-engine/pkg/services"
	"github.com/labmesh-io/labmesh-engine/pkg/sites"
	_ "github.com/labmesh-io/labmesh-engine/pkg/sites/mssql"
	_ "github.com/labmesh-io/labmesh-engine/pkg/sites/postgres"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting labmesh-engine",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Env),
		zap.String("bind_addr", cfg.BindAddr),
		zap.String("port", cfg.Port),
	)

	if err := database.MigrateAll(cfg, logger); err != nil {
		logger.Fatal("schema bootstrap failed", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pools := sites.NewPoolManager(cfg, logger)
	defer pools.Close()

	monitor := sites.NewHealthMonitor(pools,
		time.Duration(cfg.Health.IntervalSeconds)*time.Second,
		time.Duration(cfg.Health.ProbeTimeoutSeconds)*time.Second,
		logger,
	)
	monitor.Start(ctx)
	defer monitor.Stop()

	failover := sites.NewFailoverResolver(monitor)
	runner := sites.NewRunner(pools, failover, monitor, logger)

	store := routing.NewSQLStore(runner, pools)
	resolver := routing.NewResolver(store)
	alloc := routing.NewAllocator(runner)

	groups := repositories.NewGroupRepository(runner)
	members := repositories.NewMemberRepository(runner)
	projects := repositories.NewProjectRepository(runner)
	parts := repositories.NewParticipationRepository(runner)

	mover := migration.NewEngine(groups, members, projects, parts,
		store, alloc, migration.NewStepLog(runner), logger)

	groupService := services.NewGroupService(groups, members, projects, store, resolver, alloc, mover, logger)
	memberService := services.NewMemberService(members, groups, parts, store, resolver, alloc, logger)
	projectService := services.NewProjectService(projects, groups, parts, store, resolver, alloc, logger)
	partService := services.NewParticipationService(parts, members, projects, resolver, logger)
	statusService := services.NewStatusService(monitor)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(statusService, cfg.Version, cfg.Env, logger).RegisterRoutes(mux)
	handlers.NewGroupHandler(groupService, logger).RegisterRoutes(mux)
	handlers.NewMemberHandler(memberService, partService, logger).RegisterRoutes(mux)
	handlers.NewProjectHandler(projectService, partService, logger).RegisterRoutes(mux)
	handlers.NewParticipationHandler(partService, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown incomplete", zap.Error(err))
		}
	}

	logger.Info("labmesh-engine stopped")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
