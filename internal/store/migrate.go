package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
)

//go:embed migrations
var migrations embed.FS

const (
	DialectSQLite   = goose.DialectSQLite3
	DialectPostgres = goose.DialectPostgres
)

// Migrate applies every pending migration for dialect to db.
func Migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect) error {
	dir := "migrations/sqlite"
	if dialect == DialectPostgres {
		dir = "migrations/postgres"
	}
	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	p, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}
	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		log.Info().
			Int64("version", r.Source.Version).
			Dur("took", r.Duration).
			Msg("applied migration")
	}
	return nil
}
