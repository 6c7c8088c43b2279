// Package database bootstraps site schemas. Migrations are organized by
// dialect and by role: data sites carry the partitioned business tables,
// the global site carries only the routing registry and the migration log.
package database

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlserver"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/labmesh-io/labmesh-engine/pkg/config"
	"github.com/labmesh-io/labmesh-engine/pkg/sites"
)

// MigrateAll applies pending migrations to every configured site, global
// included. It is idempotent; only pending migrations run.
func MigrateAll(cfg *config.Config, logger *zap.Logger) error {
	for _, site := range sites.AllSites() {
		if err := MigrateSite(cfg, site, logger); err != nil {
			return fmt.Errorf("migrate %s: %w", site, err)
		}
	}
	return nil
}

// MigrateSite applies the pending migrations for one site. The migration
// connection is opened and closed here, independent of the pool manager: a
// failed bootstrap must not leave a half-wired pool behind.
func MigrateSite(cfg *config.Config, site sites.SiteID, logger *zap.Logger) error {
	siteCfg, err := siteConfig(cfg, site)
	if err != nil {
		return err
	}
	dialect, err := sites.ParseDialect(siteCfg.Dialect)
	if err != nil {
		return err
	}

	db, err := openMigrationDB(dialect, siteCfg.ConnString(cfg))
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	m, err := newMigrator(db, dialect, sourcePath(cfg.MigrationsPath, dialect, site))
	if err != nil {
		return err
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			logger.Warn("failed to close migration source", zap.Error(srcErr))
		}
		if dbErr != nil {
			logger.Warn("failed to close migration database", zap.Error(dbErr))
		}
	}()

	if err := m.Up(); err != nil {
		if err == migrate.ErrNoChange {
			logger.Info("schema up-to-date", zap.String("site", string(site)))
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, _, _ := m.Version()
	logger.Info("applied migrations",
		zap.String("site", string(site)),
		zap.Uint("version", version),
	)
	return nil
}

func openMigrationDB(dialect sites.Dialect, connStr string) (*sql.DB, error) {
	switch dialect {
	case sites.DialectPostgres:
		return sql.Open("pgx", connStr)
	default:
		return sql.Open("sqlserver", connStr)
	}
}

func newMigrator(db *sql.DB, dialect sites.Dialect, path string) (*migrate.Migrate, error) {
	switch dialect {
	case sites.DialectPostgres:
		driver, err := postgres.WithInstance(db, &postgres.Config{})
		if err != nil {
			return nil, fmt.Errorf("create postgres migration driver: %w", err)
		}
		return migrate.NewWithDatabaseInstance("file://"+path, "postgres", driver)
	default:
		driver, err := sqlserver.WithInstance(db, &sqlserver.Config{})
		if err != nil {
			return nil, fmt.Errorf("create sqlserver migration driver: %w", err)
		}
		return migrate.NewWithDatabaseInstance("file://"+path, "sqlserver", driver)
	}
}

// sourcePath picks the migration directory for a site. Layout:
//
//	<root>/<dialect>/data    business tables, applied to every data site
//	<root>/<dialect>/global  routing registry and migration log
func sourcePath(root string, dialect sites.Dialect, site sites.SiteID) string {
	role := "data"
	if site == sites.SiteGlobal {
		role = "global"
	}
	return filepath.Join(root, string(dialect), role)
}

func siteConfig(cfg *config.Config, site sites.SiteID) (config.SiteConfig, error) {
	switch site {
	case sites.SiteA:
		return cfg.Sites.SiteA, nil
	case sites.SiteB:
		return cfg.Sites.SiteB, nil
	case sites.SiteC:
		return cfg.Sites.SiteC, nil
	case sites.SiteGlobal:
		return cfg.Sites.Global, nil
	}
	return config.SiteConfig{}, fmt.Errorf("no configuration for site %q", site)
}
