package xpgx

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ougirez/cmregistry/internal/pkg/constants"
	"github.com/ougirez/cmregistry/internal/pkg/egress"
	"github.com/ougirez/cmregistry/internal/pkg/logger"
)

// Sqlizer is satisfied by every squirrel builder.
type Sqlizer interface {
	ToSql() (string, []interface{}, error)
}

type Pool interface {
	Getx(ctx context.Context, dst interface{}, query Sqlizer) error
	Selectx(ctx context.Context, dst interface{}, query Sqlizer) error
	Execx(ctx context.Context, query Sqlizer) (pgconn.CommandTag, error)
}

type PgPool struct {
	*pgxpool.Pool
	timeout time.Duration
}

// New connects to Postgres, retrying the first ping with exponential backoff.
func New(ctx context.Context, dsn string, timeout time.Duration) (*PgPool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.ParseConfig: %w", err)
	}

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}

	err = backoff.Retry(
		func() error {
			pingCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := p.Ping(pingCtx); err != nil {
				logger.Warnf(ctx, "postgres ping: %v", err)
				return err
			}
			return nil
		},
		backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx),
	)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	return &PgPool{Pool: p, timeout: timeout}, nil
}

func (p *PgPool) Getx(ctx context.Context, dst interface{}, query Sqlizer) error {
	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("query.ToSql: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err = pgxscan.Get(ctx, p.Pool, dst, sql, args...); err != nil {
		egress.RecordQuery(ctx, 0)
		return upstream(ctx, err)
	}
	egress.RecordQuery(ctx, 1)
	return nil
}

func (p *PgPool) Selectx(ctx context.Context, dst interface{}, query Sqlizer) error {
	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("query.ToSql: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = pgxscan.Select(ctx, p.Pool, dst, sql, args...)
	egress.RecordQuery(ctx, sliceLen(dst))
	if err != nil {
		return upstream(ctx, err)
	}
	return nil
}

func (p *PgPool) Execx(ctx context.Context, query Sqlizer) (pgconn.CommandTag, error) {
	sql, args, err := query.ToSql()
	if err != nil {
		return pgconn.CommandTag{}, fmt.Errorf("query.ToSql: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	tag, err := p.Pool.Exec(ctx, sql, args...)
	egress.RecordQuery(ctx, 0)
	if err != nil {
		return tag, upstream(ctx, err)
	}
	return tag, nil
}

func sliceLen(dst interface{}) int {
	v := reflect.ValueOf(dst)
	for v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	if v.Kind() != reflect.Slice {
		return 0
	}
	return v.Len()
}

// upstream marks timeouts and connection failures as Upstream errors.
func upstream(ctx context.Context, err error) error {
	var connectErr *pgconn.ConnectError
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || errors.As(err, &connectErr) {
		egress.RecordUpstreamError(ctx)
		return constants.Upstreamf(err, "database")
	}
	return err
}
