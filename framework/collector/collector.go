// Package collector собирает строки таблиц состояний задач и передает их в архив.
// Collector сам является периодической задачей: на каждый источник у него есть
// требуемый интерфейс, который соединяется с интерфейсом StateTable задачи-источника.
package collector

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/akriventsev/taskflow/framework/command"
	"github.com/akriventsev/taskflow/framework/component"
	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/interfaces"
	"github.com/akriventsev/taskflow/framework/statetable"
	"github.com/akriventsev/taskflow/framework/task"
)

// DefaultBatchSize максимальное число строк источника за цикл
const DefaultBatchSize = 256

// Progress состояние сбора одного источника
type Progress struct {
	Source    string `json:"source"`
	Next      uint64 `json:"next"`
	Collected uint64 `json:"collected"`
	// Dropped строки, вытесненные из буфера источника до того, как их прочитали
	Dropped  uint64 `json:"dropped"`
	Failures uint64 `json:"failures"`
	LastErr  string `json:"last_error,omitempty"`
}

type source struct {
	name     string
	getIndex interfaces.FunctionRead[statetable.Index]
	getRows  interfaces.FunctionQualifiedRead[task.RowQuery, []statetable.Row]
	progress Progress
}

type config struct {
	batch    int
	logger   core.Logger
	taskOpts []task.Option
}

// Option настройка коллектора
type Option func(*config)

// WithBatchSize задает максимальное число строк источника за цикл
func WithBatchSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.batch = n
		}
	}
}

// WithLogger задает логгер
func WithLogger(logger core.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTaskOptions передает настройки задаче коллектора
func WithTaskOptions(opts ...task.Option) Option {
	return func(c *config) { c.taskOpts = append(c.taskOpts, opts...) }
}

// Collector периодическая задача сбора таблиц состояний
type Collector struct {
	*task.Task
	sink Sink
	cfg  config

	mu      sync.Mutex
	sources []*source
}

// New создает коллектор с периодом period, пишущий в sink
func New(name string, period time.Duration, sink Sink, opts ...Option) (*Collector, error) {
	if sink == nil {
		return nil, core.Errorf(core.ErrInvalidConfig, "collector %s: sink is nil", name)
	}
	cfg := config{batch: DefaultBatchSize, logger: core.NopLogger{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Collector{sink: sink, cfg: cfg}
	taskOpts := append([]task.Option{task.WithLogger(cfg.logger)}, cfg.taskOpts...)
	t, err := task.NewPeriodic(name, period, body{c}, taskOpts...)
	if err != nil {
		return nil, err
	}
	c.Task = t
	return c, nil
}

// AddSource добавляет требуемый интерфейс с именем источника.
// Его нужно соединить с интерфейсом StateTable задачи-источника.
func (c *Collector) AddSource(name string) error {
	if c.State() != component.Constructed {
		return core.Errorf(core.ErrInvalidState, "collector %s: sources can be added only before create", c.Name())
	}
	req, err := c.AddRequiredInterface(name)
	if err != nil {
		return err
	}
	src := &source{name: name, progress: Progress{Source: name, Next: 1}}
	if src.getIndex, err = interfaces.AddFunctionRead[statetable.Index](req, task.CommandGetIndex); err != nil {
		return err
	}
	if src.getRows, err = interfaces.AddFunctionQualifiedRead[task.RowQuery, []statetable.Row](req, task.CommandGetRows); err != nil {
		return err
	}

	c.mu.Lock()
	c.sources = append(c.sources, src)
	c.mu.Unlock()
	return nil
}

// Sources возвращает имена источников
func (c *Collector) Sources() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, len(c.sources))
	for i, src := range c.sources {
		names[i] = src.name
	}
	sort.Strings(names)
	return names
}

// Progress возвращает состояние сбора по источникам
func (c *Collector) Progress() []Progress {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Progress, len(c.sources))
	for i, src := range c.sources {
		out[i] = src.progress
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Sink возвращает получателя строк
func (c *Collector) Sink() Sink { return c.sink }

func (c *Collector) snapshot() []*source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*source(nil), c.sources...)
}

// collect переносит новые строки источника в архив.
// Ошибки источника и архива не останавливают коллектор: строки будут прочитаны в следующем цикле.
func (c *Collector) collect(ctx context.Context, src *source) {
	idx, res := src.getIndex.Execute(ctx)
	if res != command.Success {
		c.fail(src, res.String())
		return
	}

	c.mu.Lock()
	next := src.progress.Next
	c.mu.Unlock()
	if idx.Tick < next {
		return
	}

	rows, res := src.getRows.Execute(ctx, task.RowQuery{From: next, Max: c.cfg.batch})
	if res != command.Success {
		c.fail(src, res.String())
		return
	}
	if len(rows) == 0 {
		return
	}

	if err := c.sink.Write(ctx, src.name, rows); err != nil {
		c.cfg.logger.Warn("state rows not stored", "collector", c.Name(), "source", src.name, "sink", c.sink.Name(), "err", err)
		c.fail(src, err.Error())
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if first := rows[0].Tick; first > next {
		src.progress.Dropped += first - next
	}
	src.progress.Collected += uint64(len(rows))
	src.progress.Next = rows[len(rows)-1].Tick + 1
	src.progress.LastErr = ""
}

func (c *Collector) fail(src *source, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	src.progress.Failures++
	src.progress.LastErr = reason
}

// body тело цикла задачи коллектора
type body struct {
	c *Collector
}

func (b body) Run(ctx context.Context) error {
	for _, src := range b.c.snapshot() {
		b.c.collect(ctx, src)
	}
	return nil
}

// Cleanup выполняет последний сбор и закрывает архив
func (b body) Cleanup(ctx context.Context) error {
	for _, src := range b.c.snapshot() {
		b.c.collect(ctx, src)
	}
	for _, p := range b.c.Progress() {
		b.c.cfg.logger.Info("collector source done", "collector", b.c.Name(), "source", p.Source,
			"collected", p.Collected, "dropped", p.Dropped, "failures", p.Failures)
	}
	return b.c.sink.Close(ctx)
}
