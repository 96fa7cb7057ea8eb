// Package statetable предоставляет таблицу состояний задачи: кольцевой буфер значений,
// фиксируемых один раз за цикл потоком-владельцем и читаемых из других потоков.
package statetable

import (
	"sync"
	"time"

	"github.com/akriventsev/taskflow/framework/core"
)

// Index идентификатор зафиксированной строки
type Index struct {
	Tick uint64    `json:"tick"`
	Time time.Time `json:"time"`
}

// Row зафиксированная строка таблицы
type Row struct {
	Index
	Values map[string]any `json:"values"`
}

type column interface {
	columnName() string
	commit(slot int)
	valueAt(slot int) any
}

// Table кольцевой буфер строк состояния
type Table struct {
	name string
	size int

	mu      sync.RWMutex
	columns []column
	names   map[string]struct{}
	index   []Index
	head    int
	count   int
	tick    uint64
}

// New создает таблицу на size строк
func New(name string, size int) *Table {
	if size <= 0 {
		size = core.DefaultStateHistory
	}
	return &Table{
		name:  name,
		size:  size,
		names: make(map[string]struct{}),
		index: make([]Index, size),
	}
}

// Name возвращает имя таблицы
func (t *Table) Name() string { return t.name }

// Size возвращает емкость в строках
func (t *Table) Size() int { return t.size }

// ColumnNames возвращает имена столбцов в порядке добавления
func (t *Table) ColumnNames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.columnName()
	}
	return names
}

// Advance фиксирует текущие значения всех столбцов новой строкой
func (t *Table) Advance(now time.Time) Index {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tick++
	slot := t.head
	idx := Index{Tick: t.tick, Time: now}
	t.index[slot] = idx
	for _, c := range t.columns {
		c.commit(slot)
	}
	t.head = (t.head + 1) % t.size
	if t.count < t.size {
		t.count++
	}
	return idx
}

// Latest возвращает индекс последней зафиксированной строки; Tick == 0 если строк нет
func (t *Table) Latest() Index {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.count == 0 {
		return Index{}
	}
	return t.index[t.lastSlot()]
}

// Rows возвращает до max строк с Tick >= from, от старых к новым.
// Строки, вытесненные из буфера, пропускаются.
func (t *Table) Rows(from uint64, max int) []Row {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rows := make([]Row, 0)
	oldest := (t.head - t.count + t.size) % t.size
	for i := 0; i < t.count; i++ {
		slot := (oldest + i) % t.size
		idx := t.index[slot]
		if idx.Tick < from {
			continue
		}
		values := make(map[string]any, len(t.columns))
		for _, c := range t.columns {
			values[c.columnName()] = c.valueAt(slot)
		}
		rows = append(rows, Row{Index: idx, Values: values})
		if max > 0 && len(rows) >= max {
			break
		}
	}
	return rows
}

func (t *Table) lastSlot() int {
	return (t.head - 1 + t.size) % t.size
}

func (t *Table) slotOf(tick uint64) (int, bool) {
	if t.count == 0 || tick == 0 || tick > t.tick || t.tick-tick >= uint64(t.count) {
		return 0, false
	}
	back := int(t.tick - tick)
	return (t.lastSlot() - back + t.size) % t.size, true
}

// Column типизированный столбец таблицы
type Column[T any] struct {
	table   *Table
	name    string
	initial T
	current T
	history []T
}

// AddColumn добавляет столбец; допускается только до первой фиксации
func AddColumn[T any](t *Table, name string, initial T) (*Column[T], error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.names[name]; exists {
		return nil, core.Errorf(core.ErrAlreadyExists, "column %s already exists in state table %s", name, t.name)
	}
	if t.tick > 0 {
		return nil, core.Errorf(core.ErrInvalidState, "state table %s already advanced, column %s cannot be added", t.name, name)
	}

	c := &Column[T]{
		table:   t,
		name:    name,
		initial: initial,
		current: initial,
		history: make([]T, t.size),
	}
	t.columns = append(t.columns, c)
	t.names[name] = struct{}{}
	return c, nil
}

// Name возвращает имя столбца
func (c *Column[T]) Name() string { return c.name }

// Set задает значение текущей строки; видно читателям после Advance
func (c *Column[T]) Set(v T) {
	c.table.mu.Lock()
	c.current = v
	c.table.mu.Unlock()
}

// Get возвращает значение текущей (незафиксированной) строки
func (c *Column[T]) Get() T {
	c.table.mu.RLock()
	defer c.table.mu.RUnlock()
	return c.current
}

// Latest возвращает последнее зафиксированное значение.
// До первой фиксации возвращается начальное значение и нулевой индекс.
func (c *Column[T]) Latest() (T, Index) {
	c.table.mu.RLock()
	defer c.table.mu.RUnlock()

	if c.table.count == 0 {
		return c.initial, Index{}
	}
	slot := c.table.lastSlot()
	return c.history[slot], c.table.index[slot]
}

// At возвращает значение строки с указанным тиком, если она еще в буфере
func (c *Column[T]) At(tick uint64) (T, bool) {
	c.table.mu.RLock()
	defer c.table.mu.RUnlock()

	slot, ok := c.table.slotOf(tick)
	if !ok {
		var zero T
		return zero, false
	}
	return c.history[slot], true
}

func (c *Column[T]) columnName() string { return c.name }

func (c *Column[T]) commit(slot int) { c.history[slot] = c.current }

func (c *Column[T]) valueAt(slot int) any { return c.history[slot] }
