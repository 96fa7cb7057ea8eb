// Package migrations предоставляет обертку над goose для управления схемой архива
// таблиц состояний. Миграции встраиваются в бинарь и передаются как fs.FS.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/akriventsev/taskflow/framework/core"
)

// MigrationStatus представляет статус миграции
type MigrationStatus struct {
	Version   int64
	Name      string
	AppliedAt *time.Time
	Status    string // "pending", "applied"
}

func newProvider(db *sql.DB, fsys fs.FS) (*goose.Provider, error) {
	if db == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "database is nil")
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "failed to load migrations")
	}
	return provider, nil
}

// Up применяет все pending миграции и возвращает число примененных
func Up(ctx context.Context, db *sql.DB, fsys fs.FS) (int, error) {
	provider, err := newProvider(db, fsys)
	if err != nil {
		return 0, err
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return len(results), fmt.Errorf("failed to run migrations: %w", err)
	}
	return len(results), nil
}

// Down откатывает steps последних миграций
func Down(ctx context.Context, db *sql.DB, fsys fs.FS, steps int) error {
	provider, err := newProvider(db, fsys)
	if err != nil {
		return err
	}
	if steps <= 0 {
		steps = 1
	}
	for i := 0; i < steps; i++ {
		if _, err := provider.Down(ctx); err != nil {
			return fmt.Errorf("failed to rollback migration: %w", err)
		}
	}
	return nil
}

// CurrentVersion возвращает текущую версию схемы
func CurrentVersion(ctx context.Context, db *sql.DB, fsys fs.FS) (int64, error) {
	provider, err := newProvider(db, fsys)
	if err != nil {
		return 0, err
	}
	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

// Status возвращает статус всех миграций
func Status(ctx context.Context, db *sql.DB, fsys fs.FS) ([]MigrationStatus, error) {
	provider, err := newProvider(db, fsys)
	if err != nil {
		return nil, err
	}
	list, err := provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get migration status: %w", err)
	}

	statuses := make([]MigrationStatus, 0, len(list))
	for _, s := range list {
		status := MigrationStatus{
			Version: s.Source.Version,
			Name:    path.Base(s.Source.Path),
			Status:  string(s.State),
		}
		if s.State == goose.StateApplied {
			appliedAt := s.AppliedAt
			status.AppliedAt = &appliedAt
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// Versions возвращает версии SQL-миграций из fsys без обращения к базе
func Versions(fsys fs.FS) ([]int64, error) {
	files, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]string, len(files))
	versions := make([]int64, 0, len(files))
	for _, file := range files {
		version, err := goose.NumericComponent(file)
		if err != nil {
			return nil, core.Wrap(err, core.ErrInvalidConfig, "invalid migration file "+file)
		}
		if prev, dup := seen[version]; dup {
			return nil, core.Errorf(core.ErrDuplicateName, "migrations %s and %s share version %d", prev, file, version)
		}
		seen[version] = file
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}
