package catalog

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/deltaflat/pkg/errors"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS deltaflat_tables (
	name        TEXT PRIMARY KEY,
	location    TEXT NOT NULL,
	format      TEXT NOT NULL DEFAULT 'delta',
	description TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const upsertSQL = `
INSERT INTO deltaflat_tables (name, location, format, description)
VALUES ($1, $2, $3, $4)
ON CONFLICT (name) DO UPDATE SET
	location    = EXCLUDED.location,
	format      = EXCLUDED.format,
	description = EXCLUDED.description,
	updated_at  = NOW()`

const selectColumns = `name, location, format, description, created_at, updated_at`

// PostgresConfig tunes the connection pool
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Postgres is a Catalog stored in the deltaflat_tables table
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres connects, pings and creates the catalog table if needed
func NewPostgres(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "catalog dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse catalog dsn")
	}
	poolConfig.MaxConns = cfg.MaxConns
	if poolConfig.MaxConns <= 0 {
		poolConfig.MaxConns = 4
	}
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	if poolConfig.MaxConnLifetime <= 0 {
		poolConfig.MaxConnLifetime = time.Hour
	}
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	if poolConfig.MaxConnIdleTime <= 0 {
		poolConfig.MaxConnIdleTime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to reach catalog database")
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to create catalog table")
	}

	logger.Info("catalog connected",
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.String("database", poolConfig.ConnConfig.Database),
		zap.Int32("max_connections", poolConfig.MaxConns))
	return &Postgres{pool: pool, logger: logger}, nil
}

func (p *Postgres) Register(ctx context.Context, e Entry) error {
	e, err := prepareEntry(e)
	if err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, upsertSQL, e.Name, e.Location, e.Format, e.Description); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to register table").WithDetail("table", e.Name)
	}
	p.logger.Debug("table registered", zap.String("table", e.Name), zap.String("location", e.Location))
	return nil
}

func (p *Postgres) Lookup(ctx context.Context, name string) (*Entry, error) {
	n, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	row := p.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM deltaflat_tables WHERE name = $1`, n)

	var e Entry
	if err := row.Scan(&e.Name, &e.Location, &e.Format, &e.Description, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(n)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to look up table").WithDetail("table", n)
	}
	return &e, nil
}

func (p *Postgres) Drop(ctx context.Context, name string) error {
	n, err := NormalizeName(name)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, `DELETE FROM deltaflat_tables WHERE name = $1`, n)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to drop table").WithDetail("table", n)
	}
	if tag.RowsAffected() == 0 {
		return notFound(n)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context) ([]Entry, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+selectColumns+` FROM deltaflat_tables ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to list tables")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Name, &e.Location, &e.Format, &e.Description, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan catalog row")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "error iterating catalog rows")
	}
	return out, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// Open returns a Postgres catalog when cfg names a DSN and an in-memory one
// otherwise.
func Open(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (Catalog, error) {
	if cfg.DSN == "" {
		return NewMemory(), nil
	}
	return NewPostgres(ctx, cfg, logger)
}
