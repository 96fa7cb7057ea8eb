package interfaces

import (
	"sort"
	"sync"

	"github.com/akriventsev/taskflow/framework/command"
	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/mailbox"
)

// Required именованный набор функций, которые компонент ожидает вызывать у партнера
type Required struct {
	owner    Owner
	name     string
	settings settings

	mu        sync.RWMutex
	functions map[string]*Function
	handlers  map[string]*EventHandler
	conn      *Connection
	provided  *Provided
	events    *mailbox.Mailbox
}

// NewRequired создает требуемый интерфейс
func NewRequired(owner Owner, name string, opts ...Option) *Required {
	r := &Required{
		owner:     owner,
		name:      name,
		settings:  newSettings(opts),
		functions: make(map[string]*Function),
		handlers:  make(map[string]*EventHandler),
	}
	if owner != nil && owner.Executor() != "" {
		r.events = mailbox.New(r.QualifiedName()+":events", r.settings.mailboxSize,
			mailbox.WithSignal(r.settings.signal),
			mailbox.WithObserver(r.settings.observer))
	}
	return r
}

// Name возвращает имя интерфейса
func (r *Required) Name() string { return r.name }

// Owner возвращает владельца интерфейса
func (r *Required) Owner() Owner { return r.owner }

// QualifiedName возвращает имя вида "компонент.интерфейс"
func (r *Required) QualifiedName() string { return qualified(r.owner, r.name) }

// IsOptional сообщает, что интерфейс не обязателен для запуска
func (r *Required) IsOptional() bool { return r.settings.optional }

// AddFunction объявляет ожидаемую команду партнера
func (r *Required) AddFunction(name string, kind command.Kind, in, out command.Prototype) (*Function, error) {
	if name == "" {
		return nil, core.NewError(core.ErrInvalidConfig, "function name is empty")
	}
	if kind.HasInput() == in.IsZero() || kind.HasOutput() == out.IsZero() {
		return nil, core.Errorf(core.ErrInvalidConfig, "function %s: prototypes do not match kind %s", name, kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.functions[name]; exists {
		return nil, core.Errorf(core.ErrAlreadyExists, "function %s already exists in %s", name, r.QualifiedName())
	}
	if r.conn != nil {
		return nil, core.Errorf(core.ErrInvalidState, "%s is connected, functions cannot be added", r.QualifiedName())
	}

	f := &Function{iface: r, name: name, kind: kind, input: in, output: out}
	r.functions[name] = f
	return f, nil
}

// Function возвращает объявленную функцию
func (r *Required) Function(name string) (*Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.functions[name]
	return f, ok
}

// FunctionNames возвращает имена всех функций в отсортированном порядке
func (r *Required) FunctionNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NamesOfFunctions возвращает отсортированные имена функций указанного варианта
func (r *Required) NamesOfFunctions(kind command.Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0)
	for name, f := range r.functions {
		if f.kind == kind {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// FunctionsByKind группирует имена функций по вариантам
func (r *Required) FunctionsByKind() map[command.Kind][]string {
	result := make(map[command.Kind][]string)
	for _, kind := range command.Kinds() {
		if names := r.NamesOfFunctions(kind); len(names) > 0 {
			result[kind] = names
		}
	}
	return result
}

// IsConnected сообщает, связан ли интерфейс
func (r *Required) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn != nil
}

// Connection возвращает активное соединение или nil
func (r *Required) Connection() *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.conn == nil {
		return nil
	}
	c := *r.conn
	return &c
}

// ProcessEvents выполняет поставленные в очередь обработчики событий
func (r *Required) ProcessEvents() int {
	if r.events == nil {
		return 0
	}
	return r.events.ProcessAll()
}

// CloseEvents закрывает очередь событий
func (r *Required) CloseEvents() int {
	if r.events == nil {
		return 0
	}
	return r.events.Close()
}
