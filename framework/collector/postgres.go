package collector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/migrations"
	"github.com/akriventsev/taskflow/framework/statetable"
)

// PostgresConfig конфигурация архива в PostgreSQL
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
	// Migrate применить встроенные миграции при подключении
	Migrate bool `yaml:"migrate"`
}

// Validate проверяет корректность конфигурации
func (c PostgresConfig) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("DSN cannot be empty")
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("max_conns cannot be negative")
	}
	return nil
}

// DefaultPostgresConfig возвращает конфигурацию по умолчанию
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxConns: 4,
		Migrate:  true,
	}
}

const insertRow = `
	INSERT INTO taskflow_state_rows (source, tick, recorded_at, row_values)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (source, tick) DO NOTHING`

// PostgresSink пишет строки в таблицу taskflow_state_rows
type PostgresSink struct {
	config PostgresConfig
	pool   *pgxpool.Pool
}

// NewPostgresSink подключается к PostgreSQL и при необходимости применяет миграции
func NewPostgresSink(ctx context.Context, config PostgresConfig) (*PostgresSink, error) {
	if err := config.Validate(); err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "invalid postgres sink config")
	}

	poolConfig, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "invalid postgres DSN")
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, core.Wrap(err, core.ErrTransport, "failed to connect to PostgreSQL")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, core.Wrap(err, core.ErrTransport, "failed to connect to PostgreSQL")
	}

	if config.Migrate {
		db := stdlib.OpenDBFromPool(pool)
		_, err := migrations.Up(ctx, db, Migrations())
		_ = db.Close()
		if err != nil {
			pool.Close()
			return nil, err
		}
	}
	return &PostgresSink{config: config, pool: pool}, nil
}

// Name возвращает имя получателя
func (s *PostgresSink) Name() string { return "postgres" }

// Write вставляет строки одним пакетом
func (s *PostgresSink) Write(ctx context.Context, source string, rows []statetable.Row) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		values, err := json.Marshal(row.Values)
		if err != nil {
			return fmt.Errorf("failed to encode row %d: %w", row.Tick, err)
		}
		batch.Queue(insertRow, source, int64(row.Tick), row.Time, values)
	}

	results := s.pool.SendBatch(ctx, batch)
	for range rows {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return core.Wrap(err, core.ErrTransport, "failed to insert state rows")
		}
	}
	return results.Close()
}

// Close закрывает пул соединений
func (s *PostgresSink) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

var _ Sink = (*PostgresSink)(nil)
