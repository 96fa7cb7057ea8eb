package interfaces

import (
	"context"
	"sort"
	"sync"

	"github.com/akriventsev/taskflow/framework/command"
	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/mailbox"
)

// EventGenerator источник событий предоставленного интерфейса (Void или Write)
type EventGenerator struct {
	name    string
	kind    command.Kind
	payload command.Prototype
	logger  core.Logger

	mu       sync.RWMutex
	handlers map[string]*EventHandler // по идентификатору соединения
}

// Name возвращает имя события
func (g *EventGenerator) Name() string { return g.name }

// Kind возвращает вариант события
func (g *EventGenerator) Kind() command.Kind { return g.kind }

// Payload возвращает прототип данных события
func (g *EventGenerator) Payload() command.Prototype { return g.payload }

// Subscribers возвращает число подключенных обработчиков
func (g *EventGenerator) Subscribers() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.handlers)
}

// Trigger доставляет событие всем подключенным обработчикам
func (g *EventGenerator) Trigger(ctx context.Context, payload any) command.Result {
	if g.kind == command.Void && payload != nil {
		return command.ArgumentMismatch
	}
	if g.kind == command.Write {
		if _, ok := g.payload.Coerce(payload); !ok {
			return command.ArgumentMismatch
		}
	}

	g.mu.RLock()
	handlers := make([]*EventHandler, 0, len(g.handlers))
	for _, h := range g.handlers {
		handlers = append(handlers, h)
	}
	g.mu.RUnlock()

	for _, h := range handlers {
		if res := h.deliver(ctx, payload); !res.IsOK() {
			g.logger.Warn("event delivery failed", "event", g.name, "handler", h.iface.QualifiedName(), "result", res)
		}
	}
	return command.Success
}

func (g *EventGenerator) attach(connID string, h *EventHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[connID] = h
}

func (g *EventGenerator) detach(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.handlers, connID)
}

// EventHandler обработчик события в требуемом интерфейсе
type EventHandler struct {
	iface  *Required
	cmd    *command.Command
	queued bool

	mu         sync.RWMutex
	viaMailbox bool
	bound      bool
}

// Name возвращает имя обработчика (совпадает с именем события)
func (h *EventHandler) Name() string { return h.cmd.Name() }

// Kind возвращает вариант обработчика
func (h *EventHandler) Kind() command.Kind { return h.cmd.Kind() }

// Command возвращает команду обработчика (для Enable/Disable)
func (h *EventHandler) Command() *command.Command { return h.cmd }

// IsBound сообщает, подключен ли обработчик к генератору
func (h *EventHandler) IsBound() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.bound
}

func (h *EventHandler) setBinding(bound, viaMailbox bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bound = bound
	h.viaMailbox = viaMailbox
}

func (h *EventHandler) deliver(ctx context.Context, payload any) command.Result {
	h.mu.RLock()
	viaMailbox := h.viaMailbox
	h.mu.RUnlock()

	if viaMailbox && h.iface.events != nil {
		return h.iface.events.Post(&mailbox.Invocation{Command: h.cmd, Arg: payload, Ctx: ctx})
	}
	_, res := h.cmd.Execute(ctx, payload)
	return res
}

// AddEventVoid объявляет событие без данных
func (p *Provided) AddEventVoid(name string) (*EventGenerator, error) {
	return p.addEvent(name, command.Void, command.None())
}

// AddEventWrite объявляет событие с данными типа T
func AddEventWrite[T any](p *Provided, name string) (*EventGenerator, error) {
	return p.addEvent(name, command.Write, command.PrototypeOf[T]())
}

// AddEvent объявляет событие с произвольным прототипом данных (события прокси)
func (p *Provided) AddEvent(name string, kind command.Kind, payload command.Prototype) (*EventGenerator, error) {
	if kind != command.Void && kind != command.Write {
		return nil, core.Errorf(core.ErrInvalidConfig, "event %s: kind %s is not an event kind", name, kind)
	}
	if (kind == command.Write) == payload.IsZero() {
		return nil, core.Errorf(core.ErrInvalidConfig, "event %s: payload does not match kind %s", name, kind)
	}
	return p.addEvent(name, kind, payload)
}

func (p *Provided) addEvent(name string, kind command.Kind, payload command.Prototype) (*EventGenerator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.events[name]; exists {
		return nil, core.Errorf(core.ErrAlreadyExists, "event %s already exists in %s", name, p.QualifiedName())
	}
	if _, exists := p.commands[name]; exists {
		return nil, core.Errorf(core.ErrAlreadyExists, "name %s is used by a command in %s", name, p.QualifiedName())
	}
	g := &EventGenerator{
		name:     name,
		kind:     kind,
		payload:  payload,
		logger:   p.settings.logger,
		handlers: make(map[string]*EventHandler),
	}
	p.events[name] = g
	return g, nil
}

// Event возвращает генератор события
func (p *Provided) Event(name string) (*EventGenerator, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	g, ok := p.events[name]
	return g, ok
}

// EventNames возвращает отсортированные имена событий
func (p *Provided) EventNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.events))
	for name := range p.events {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddEventHandlerVoid объявляет обработчик события без данных.
// queued=true доставляет событие в поток владельца через очередь событий.
func (r *Required) AddEventHandlerVoid(name string, fn func(ctx context.Context) error, queued bool) (*EventHandler, error) {
	cmd, err := command.NewVoid(name, fn)
	if err != nil {
		return nil, err
	}
	return r.addHandler(cmd, queued)
}

// AddEventHandlerWrite объявляет обработчик события с данными типа T
func AddEventHandlerWrite[T any](r *Required, name string, fn func(ctx context.Context, v T) error, queued bool) (*EventHandler, error) {
	cmd, err := command.NewWrite(name, fn)
	if err != nil {
		return nil, err
	}
	return r.addHandler(cmd, queued)
}

// AddEventHandler объявляет обработчик на основе готовой команды Void или Write
func (r *Required) AddEventHandler(cmd *command.Command, queued bool) (*EventHandler, error) {
	if k := cmd.Kind(); k != command.Void && k != command.Write {
		return nil, core.Errorf(core.ErrInvalidConfig, "event handler %s: kind %s is not an event kind", cmd.Name(), k)
	}
	return r.addHandler(cmd, queued)
}

func (r *Required) addHandler(cmd *command.Command, queued bool) (*EventHandler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[cmd.Name()]; exists {
		return nil, core.Errorf(core.ErrAlreadyExists, "event handler %s already exists in %s", cmd.Name(), r.QualifiedName())
	}
	if r.conn != nil {
		return nil, core.Errorf(core.ErrInvalidState, "%s is connected, handlers cannot be added", r.QualifiedName())
	}
	h := &EventHandler{iface: r, cmd: cmd, queued: queued}
	r.handlers[cmd.Name()] = h
	return h, nil
}

// EventHandler возвращает обработчик события
func (r *Required) EventHandler(name string) (*EventHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// EventHandlerNames возвращает отсортированные имена обработчиков
func (r *Required) EventHandlerNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
