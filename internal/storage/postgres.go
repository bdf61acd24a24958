package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/SirClappington/restq/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore persists realm configs in the realms and realm_queues tables.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db} }

func (s *PostgresStore) Load(ctx context.Context, realmID string) (domain.RealmConfig, bool, error) {
	var cfg domain.RealmConfig
	err := s.db.QueryRowContext(ctx,
		`select default_lease_time from realms where id = $1`, realmID).Scan(&cfg.DefaultLeaseTime)
	if errors.Is(err, sql.ErrNoRows) {
		return cfg, false, nil
	}
	if err != nil {
		return cfg, false, errors.Join(ErrLoadConfig, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`select queue_id, lease_time from realm_queues where realm_id = $1 order by queue_id`, realmID)
	if err != nil {
		return cfg, false, errors.Join(ErrLoadConfig, err)
	}
	defer rows.Close()
	for rows.Next() {
		var q domain.QueueConfig
		if err := rows.Scan(&q.ID, &q.LeaseTime); err != nil {
			return cfg, false, errors.Join(ErrLoadConfig, err)
		}
		cfg.Queues = append(cfg.Queues, q)
	}
	if err := rows.Err(); err != nil {
		return cfg, false, errors.Join(ErrLoadConfig, err)
	}
	return cfg, true, nil
}

// Save replaces the realm row and all of its queue rows in one transaction.
func (s *PostgresStore) Save(ctx context.Context, realmID string, cfg domain.RealmConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Join(ErrSaveConfig, err)
	}
	if _, err := tx.ExecContext(ctx,
		`insert into realms (id, default_lease_time, updated_at) values ($1, $2, now())
		 on conflict (id) do update set default_lease_time = excluded.default_lease_time, updated_at = now()`,
		realmID, cfg.DefaultLeaseTime); err != nil {
		_ = tx.Rollback()
		return errors.Join(ErrSaveConfig, err)
	}
	if _, err := tx.ExecContext(ctx, `delete from realm_queues where realm_id = $1`, realmID); err != nil {
		_ = tx.Rollback()
		return errors.Join(ErrSaveConfig, err)
	}
	for _, q := range cfg.Queues {
		if _, err := tx.ExecContext(ctx,
			`insert into realm_queues (realm_id, queue_id, lease_time) values ($1, $2, $3)`,
			realmID, q.ID, q.LeaseTime); err != nil {
			_ = tx.Rollback()
			return errors.Join(ErrSaveConfig, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Join(ErrSaveConfig, err)
	}
	return nil
}

// Delete removes the realm; its queue rows go with it (on delete cascade).
func (s *PostgresStore) Delete(ctx context.Context, realmID string) error {
	res, err := s.db.ExecContext(ctx, `delete from realms where id = $1`, realmID)
	if err != nil {
		return errors.Join(ErrDeleteConfig, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Join(ErrDeleteConfig, err)
	}
	if n == 0 {
		return fmt.Errorf("realm %q: %w", realmID, domain.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `select id from realms order by id`)
	if err != nil {
		return nil, errors.Join(ErrListRealms, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Join(ErrListRealms, err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrListRealms, err)
	}
	return out, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.Join(ErrHealthcheckFailed, err)
	}
	return nil
}

type PostgresConfig struct {
	DSN           string
	MaxConns      int32
	RetryAttempts int
	RetryInterval time.Duration
}

// ConnectPostgres opens a pgx pool, retrying with a linearly growing delay
// until the database answers a ping or the attempts run out.
func ConnectPostgres(ctx context.Context, cfg PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseDBConfig, err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	attempts := max(cfg.RetryAttempts, 1)
	var lastErr error
	for i := range attempts {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrPostgresNotReady, ctx.Err())
		case <-time.After(time.Duration(i+1) * cfg.RetryInterval):
		}
	}
	return nil, errors.Join(ErrPostgresNotReady, lastErr)
}

// OpenDB bridges a pgx pool to database/sql, which the store and goose
// both work against.
func OpenDB(pool *pgxpool.Pool) *sql.DB {
	return stdlib.OpenDBFromPool(pool)
}

// Migrate brings the schema up to date with the embedded goose migrations.
func Migrate(ctx context.Context, db *sql.DB, table string, log *zap.Logger) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{log.Sugar()})
	if table != "" {
		goose.SetTableName(table)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Join(ErrFailedToMigrate, err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return errors.Join(ErrFailedToMigrate, err)
	}
	return nil
}

// gooseLogger routes goose's printf logging into zap.
type gooseLogger struct {
	log *zap.SugaredLogger
}

func (l gooseLogger) Fatalf(format string, v ...any) { l.log.Errorf(format, v...) }
func (l gooseLogger) Printf(format string, v ...any) { l.log.Infof(format, v...) }
