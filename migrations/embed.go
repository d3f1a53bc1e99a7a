// Package migrations embeds the SQL migration files and applies them with
// the goose programmatic API, both at server start and in tests.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// FS holds all *.sql migration files embedded at compile time.
//
//go:embed *.sql
var FS embed.FS

// Up applies every pending migration to db and returns how many ran.
func Up(ctx context.Context, db *sql.DB) (int, error) {
	provider, err := goose.NewProvider(goose.DialectPostgres, db, FS)
	if err != nil {
		return 0, fmt.Errorf("migrations.Up: create provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("migrations.Up: %w", err)
	}
	return len(results), nil
}
