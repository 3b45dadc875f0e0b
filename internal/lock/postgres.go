package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const lockApplicationName = "capacityd-locks"

// PostgresLocker сессионная advisory-блокировка на соединении собственного пула.
// Пул блокировок отделён от пула репозиториев: держатель блокировки всегда
// может получить соединение для проверки ёмкости и записи в леджер.
type PostgresLocker struct {
	pool    *pgxpool.Pool
	maxWait time.Duration
	logger  *zap.Logger
}

// LockPoolConfig конфиг пула для блокировок поверх того же DSN
func LockPoolConfig(dsn string, maxConns int32) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse lock pool dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MinConns = 0
	cfg.ConnConfig.RuntimeParams["application_name"] = lockApplicationName
	return cfg, nil
}

// NewPostgresLockerPool открывает отдельный пул и создаёт на нём локер
func NewPostgresLockerPool(ctx context.Context, dsn string, maxConns int32, maxWait time.Duration, logger *zap.Logger) (*PostgresLocker, error) {
	cfg, err := LockPoolConfig(dsn, maxConns)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open lock pool: %w", err)
	}
	return NewPostgresLocker(pool, maxWait, logger), nil
}

// NewPostgresLocker pool не должен использоваться репозиториями
func NewPostgresLocker(pool *pgxpool.Pool, maxWait time.Duration, logger *zap.Logger) *PostgresLocker {
	return &PostgresLocker{pool: pool, maxWait: maxWait, logger: logger}
}

func (l *PostgresLocker) Lock(ctx context.Context, key string) (func(), error) {
	waitCtx := ctx
	if l.maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.maxWait)
		defer cancel()
	}

	conn, err := l.pool.Acquire(waitCtx)
	if err != nil {
		return nil, l.waitError(ctx, key, "acquire connection", err)
	}

	if _, err := conn.Exec(waitCtx, `SELECT pg_advisory_lock(hashtext($1))`, key); err != nil {
		conn.Release()
		return nil, l.waitError(ctx, key, "advisory lock", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Отдельный контекст: запрос мог быть уже отменён
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, key); err != nil {
				l.logger.Error("Failed to release advisory lock, dropping connection",
					zap.String("key", key),
					zap.Error(err))
				// Сессия с висящей блокировкой не должна вернуться в пул
				_ = conn.Conn().Close(ctx)
			}
			conn.Release()
		})
	}, nil
}

// waitError отличает истечение maxWait от отмены запроса вызывающим
func (l *PostgresLocker) waitError(ctx context.Context, key, op string, err error) error {
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrLockTimeout, key)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Close закрывает пул блокировок
func (l *PostgresLocker) Close() {
	l.pool.Close()
}
