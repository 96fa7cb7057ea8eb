// Package directory хранит сведения о процессах: какое глобальное имя у процесса,
// где он запущен и какие компоненты экспортирует. Менеджер регистрирует процесс при
// запуске и продлевает запись, пока процесс жив.
package directory

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/akriventsev/taskflow/framework/config"
	"github.com/akriventsev/taskflow/framework/core"
)

// Entry запись о процессе
type Entry struct {
	Process    string    `json:"process"`
	Host       string    `json:"host"`
	PID        int       `json:"pid"`
	Bus        string    `json:"bus,omitempty"`
	HTTPAddr   string    `json:"http_addr,omitempty"`
	Components []string  `json:"components"`
	Exports    []string  `json:"exports,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Directory каталог процессов
type Directory interface {
	// Register создает или обновляет запись процесса
	Register(ctx context.Context, entry Entry) error
	// Deregister удаляет запись процесса
	Deregister(ctx context.Context, process string) error
	// Lookup возвращает запись процесса или NOT_FOUND
	Lookup(ctx context.Context, process string) (Entry, error)
	// List возвращает живые записи, отсортированные по имени процесса
	List(ctx context.Context) ([]Entry, error)
	// Close освобождает ресурсы
	Close() error
}

// NewEntry заполняет идентичность текущего процесса
func NewEntry(process string) Entry {
	host, _ := os.Hostname()
	now := time.Now()
	return Entry{
		Process:   process,
		Host:      host,
		PID:       os.Getpid(),
		StartedAt: now,
		UpdatedAt: now,
	}
}

// New создает каталог по конфигурации
func New(cfg config.Directory) (Directory, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemory(cfg.TTL), nil
	case "redis":
		return NewRedis(RedisConfig{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			Prefix:   cfg.Prefix,
			TTL:      cfg.TTL,
		})
	default:
		return nil, core.Errorf(core.ErrInvalidConfig, "unknown directory type %q", cfg.Type)
	}
}

func validateEntry(entry Entry) error {
	if entry.Process == "" {
		return core.NewError(core.ErrInvalidConfig, "process name cannot be empty")
	}
	return nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Process < entries[j].Process })
}

// Keeper периодически продлевает запись процесса
type Keeper struct {
	dir      Directory
	entry    func() Entry
	interval time.Duration
	logger   core.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewKeeper создает Keeper; entry вызывается перед каждой регистрацией
func NewKeeper(dir Directory, entry func() Entry, interval time.Duration, logger core.Logger) *Keeper {
	if logger == nil {
		logger = core.NopLogger{}
	}
	return &Keeper{dir: dir, entry: entry, interval: interval, logger: logger}
}

// Start регистрирует процесс и запускает продление
func (k *Keeper) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.running {
		return core.NewError(core.ErrInvalidState, "keeper already running")
	}
	if k.interval <= 0 {
		return core.NewError(core.ErrInvalidConfig, "keeper interval must be positive")
	}
	if err := k.dir.Register(ctx, k.entry()); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	k.cancel = cancel
	k.done = make(chan struct{})
	k.running = true
	go k.loop(loopCtx, k.done)
	return nil
}

func (k *Keeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entry := k.entry()
			if err := k.dir.Register(ctx, entry); err != nil {
				k.logger.Warn("directory refresh failed", "process", entry.Process, "err", err)
			}
		}
	}
}

// Stop останавливает продление и удаляет запись
func (k *Keeper) Stop(ctx context.Context) error {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return nil
	}
	k.running = false
	cancel, done := k.cancel, k.done
	k.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return core.Wrap(ctx.Err(), core.ErrTimeout, "keeper stop")
	}
	return k.dir.Deregister(ctx, k.entry().Process)
}

// IsRunning проверяет, запущен ли Keeper
func (k *Keeper) IsRunning() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.running
}

var _ core.Lifecycle = (*Keeper)(nil)
