package store

import (
	"context"
	"embed"
	"io/fs"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/ougirez/cmregistry/internal/pkg/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    text PRIMARY KEY,
    applied_at timestamptz NOT NULL DEFAULT now()
)`

// Migrate applies embedded migrations that are not recorded yet, in file name order,
// and returns the versions it applied.
func (s *store) Migrate(ctx context.Context) ([]string, error) {
	if _, err := s.pool.Execx(ctx, sq.Expr(createMigrationsTable)); err != nil {
		return nil, wrapErr(err)
	}

	var applied []string
	if err := s.pool.Selectx(ctx, &applied, builder().Select("version").From(tableMigrations)); err != nil {
		return nil, wrapErr(err)
	}
	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var versions []string
	for _, name := range names {
		version := strings.TrimSuffix(strings.TrimPrefix(name, "migrations/"), ".sql")
		if done[version] {
			continue
		}

		body, err := migrations.ReadFile(name)
		if err != nil {
			return versions, err
		}
		if _, err = s.pool.Execx(ctx, sq.Expr(string(body))); err != nil {
			logger.Errorf(ctx, "migration %s: %s", version, err.Error())
			return versions, wrapErr(err)
		}
		if _, err = s.pool.Execx(ctx, builder().Insert(tableMigrations).Columns("version").Values(version)); err != nil {
			return versions, wrapErr(err)
		}

		logger.Infof(ctx, "applied migration %s", version)
		versions = append(versions, version)
	}
	return versions, nil
}
