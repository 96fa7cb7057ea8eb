package collector

import (
	"context"
	"embed"
	"io/fs"
	"sort"
	"sync"

	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/statetable"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations возвращает встроенные миграции схемы архива
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Sink получатель строк таблиц состояний
type Sink interface {
	// Name возвращает имя получателя
	Name() string
	// Write сохраняет строки источника; повторная запись той же строки не дублирует ее
	Write(ctx context.Context, source string, rows []statetable.Row) error
	// Close освобождает ресурсы
	Close(ctx context.Context) error
}

// SinkConfig выбор и настройки получателя
type SinkConfig struct {
	Type     string         `yaml:"type"` // memory | postgres | mongodb
	Postgres PostgresConfig `yaml:"postgres"`
	MongoDB  MongoConfig    `yaml:"mongodb"`
}

// DefaultSinkConfig возвращает конфигурацию по умолчанию
func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		Type:     "memory",
		Postgres: DefaultPostgresConfig(),
		MongoDB:  DefaultMongoConfig(),
	}
}

// NewSink создает получателя по конфигурации
func NewSink(ctx context.Context, cfg SinkConfig) (Sink, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemorySink(), nil
	case "postgres":
		return NewPostgresSink(ctx, cfg.Postgres)
	case "mongodb":
		return NewMongoSink(ctx, cfg.MongoDB)
	default:
		return nil, core.Errorf(core.ErrInvalidConfig, "unknown sink type %q", cfg.Type)
	}
}

// MemorySink хранит строки в памяти процесса
type MemorySink struct {
	mu     sync.RWMutex
	rows   map[string][]statetable.Row
	ticks  map[string]map[uint64]struct{}
	writes int
	closed bool
}

// NewMemorySink создает получатель в памяти
func NewMemorySink() *MemorySink {
	return &MemorySink{
		rows:  make(map[string][]statetable.Row),
		ticks: make(map[string]map[uint64]struct{}),
	}
}

// Name возвращает имя получателя
func (s *MemorySink) Name() string { return "memory" }

// Write добавляет строки, пропуская уже сохраненные тики
func (s *MemorySink) Write(ctx context.Context, source string, rows []statetable.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.NewError(core.ErrInvalidState, "memory sink is closed")
	}
	seen, ok := s.ticks[source]
	if !ok {
		seen = make(map[uint64]struct{})
		s.ticks[source] = seen
	}
	for _, row := range rows {
		if _, dup := seen[row.Tick]; dup {
			continue
		}
		seen[row.Tick] = struct{}{}
		s.rows[source] = append(s.rows[source], row)
	}
	s.writes++
	return nil
}

// Rows возвращает сохраненные строки источника
func (s *MemorySink) Rows(source string) []statetable.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]statetable.Row, len(s.rows[source]))
	copy(rows, s.rows[source])
	return rows
}

// Sources возвращает имена источников
func (s *MemorySink) Sources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.rows))
	for name := range s.rows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Writes возвращает число вызовов Write
func (s *MemorySink) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Close закрывает получатель
func (s *MemorySink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Sink = (*MemorySink)(nil)
