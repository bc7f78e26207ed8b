// Package store provides the relational repositories behind
// domain.Repository: SQLite for single-node deployments and PostgreSQL
// (through gorm) for shared ones.
package store

import (
	"fmt"

	"askverse/internal/domain"
	"askverse/internal/infra/config"
)

// Open returns the repository selected by cfg.Driver.
func Open(cfg config.DatabaseConfig) (domain.Repository, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLiteRepository(cfg.DSN)
	case "postgres":
		return NewPostgresRepository(cfg.DSN)
	default:
		return nil, domain.NewDomainError("store.Open", domain.ErrInvalidInput,
			fmt.Sprintf("unsupported database driver %q", cfg.Driver))
	}
}

var (
	_ domain.Repository = (*SQLiteRepository)(nil)
	_ domain.Repository = (*PostgresRepository)(nil)
)
