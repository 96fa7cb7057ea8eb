// Package manager реализует менеджер компонентов процесса: реестр компонентов,
// установление соединений между интерфейсами и массовое управление жизненным циклом.
package manager

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akriventsev/taskflow/framework/component"
	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/events"
	"github.com/akriventsev/taskflow/framework/interfaces"
	"github.com/akriventsev/taskflow/framework/observability"
)

// Manager владеет компонентами процесса и соединениями между ними.
// Методы безопасны для вызова из разных горутин.
type Manager struct {
	opts      options
	publisher *events.AsyncEventPublisher

	mu          sync.RWMutex
	components  map[string]component.Component
	order       []string
	connections map[string]*binding
}

// binding установленное соединение и требуемый интерфейс, через который его можно разорвать
type binding struct {
	conn     *interfaces.Connection
	required *interfaces.Required
}

// New создает менеджер
func New(opts ...Option) *Manager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{
		opts:        o,
		components:  make(map[string]component.Component),
		connections: make(map[string]*binding),
	}
	if o.publisher != nil {
		m.publisher = events.NewAsyncEventPublisher(o.publisher, 1, 1024).
			OnError(func(event events.Event, err error) {
				o.logger.Warn("event delivery failed", "event", event.EventType(), "source", event.Source(), "err", err)
			})
	}
	return m
}

// ProcessName возвращает имя процесса
func (m *Manager) ProcessName() string {
	return m.opts.process
}

// Logger возвращает логгер менеджера
func (m *Manager) Logger() core.Logger {
	return m.opts.logger
}

// AddComponent регистрирует компонент. Повторное имя дает DUPLICATE_NAME.
func (m *Manager) AddComponent(c component.Component) error {
	if c == nil || c.Name() == "" {
		return core.NewError(core.ErrInvalidConfig, "component must have a name")
	}

	m.mu.Lock()
	if _, exists := m.components[c.Name()]; exists {
		m.mu.Unlock()
		return core.Errorf(core.ErrDuplicateName, "component %s already registered", c.Name())
	}
	m.components[c.Name()] = c
	m.order = append(m.order, c.Name())
	m.mu.Unlock()

	c.Lifecycle().Subscribe(func(t component.Transition) {
		m.onTransition(c, t)
	})

	m.opts.logger.Info("component added", "component", c.Name(), "type", c.Type(), "state", c.State())
	return nil
}

// RemoveComponent удаляет компонент, который не запускался или завершен и не имеет соединений
func (m *Manager) RemoveComponent(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.components[name]
	if !ok {
		return core.Errorf(core.ErrComponentNotFound, "component %s not found", name)
	}
	if s := c.State(); s != component.Constructed && !s.IsTerminal() {
		return core.Errorf(core.ErrInvalidState, "component %s is %s", name, s)
	}
	for _, b := range m.connections {
		if b.conn.Requirer == name || b.conn.Provider == name {
			return core.Errorf(core.ErrInvalidState, "component %s has connection %s", name, b.conn)
		}
	}

	delete(m.components, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.opts.logger.Info("component removed", "component", name)
	return nil
}

// GetComponent возвращает компонент по имени
func (m *Manager) GetComponent(name string) (component.Component, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.components[name]
	return c, ok
}

// GetNamesOfComponents возвращает отсортированные имена компонентов
func (m *Manager) GetNamesOfComponents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.components))
	for name := range m.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// snapshot возвращает компоненты в порядке регистрации
func (m *Manager) snapshot() []component.Component {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]component.Component, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.components[name])
	}
	return out
}

// Connect связывает required-интерфейс requirer с provided-интерфейсом provider.
// Соединение атомарно: при любой ошибке ни одна функция не связана.
func (m *Manager) Connect(ctx context.Context, requirer, required, provider, provided string) (*interfaces.Connection, error) {
	var conn *interfaces.Connection
	err := observability.TraceLifecycle(ctx, m.opts.tracer, requirer, "connect", func(ctx context.Context) error {
		var err error
		conn, err = m.connect(requirer, required, provider, provided)
		return err
	})
	if err != nil {
		m.opts.logger.Warn("connect failed",
			"requirer", requirer, "required", required, "provider", provider, "provided", provided, "err", err)
		return nil, err
	}

	m.opts.logger.Info("connected", "connection", conn.String(), "id", conn.ID, "queued", conn.Queued)
	m.publish(ctx, &events.ConnectionChange{
		ID:           uuid.NewString(),
		Type:         events.TypeConnectionCreated,
		ConnectionID: conn.ID,
		Requirer:     conn.Requirer,
		Required:     conn.RequiredInterface,
		Provider:     conn.Provider,
		Provided:     conn.ProvidedInterface,
		Queued:       conn.Queued,
		Time:         conn.CreatedAt,
	})
	return conn, nil
}

func (m *Manager) connect(requirer, required, provider, provided string) (*interfaces.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rc, ok := m.components[requirer]
	if !ok {
		return nil, core.Errorf(core.ErrComponentNotFound, "requirer %s not found", requirer)
	}
	pc, ok := m.components[provider]
	if !ok {
		return nil, core.Errorf(core.ErrComponentNotFound, "provider %s not found", provider)
	}

	req, ok := rc.RequiredInterface(required)
	if !ok {
		return nil, core.Errorf(core.ErrInterfaceNotFound, "%s has no required interface %s", requirer, required)
	}
	prov, ok := pc.ProvidedInterface(provided)
	if !ok {
		return nil, core.Errorf(core.ErrInterfaceNotFound, "%s has no provided interface %s", provider, provided)
	}

	if s := rc.State(); s == component.Active || s.IsTerminal() || s == component.Finishing {
		return nil, core.Errorf(core.ErrInvalidState, "requirer %s is %s", requirer, s)
	}
	if s := pc.State(); s.IsTerminal() || s == component.Finishing {
		return nil, core.Errorf(core.ErrInvalidState, "provider %s is %s", provider, s)
	}

	conn, err := interfaces.Bind(req, prov, uuid.NewString())
	if err != nil {
		return nil, err
	}
	m.connections[conn.ID] = &binding{conn: conn, required: req}
	return conn, nil
}

// ConnectRemote связывает required-интерфейс с интерфейсом компонента другого процесса.
// Прокси регистрируется под именем "process:provider" при первом обращении.
func (m *Manager) ConnectRemote(ctx context.Context, requirer, required, process, provider, provided string) (*interfaces.Connection, error) {
	if process == "" || process == m.opts.process {
		return m.Connect(ctx, requirer, required, provider, provided)
	}
	if m.opts.proxy == nil {
		return nil, core.Errorf(core.ErrInvalidConfig, "remote connection to %s:%s requires a proxy client", process, provider)
	}

	name := ProxyName(process, provider)
	proxy, ok := m.GetComponent(name)
	if !ok {
		var err error
		proxy, err = m.opts.proxy.NewComponent(ctx, process, provider)
		if err != nil {
			return nil, err
		}
		if err := m.AddComponent(proxy); err != nil && !core.IsErrorCode(err, core.ErrDuplicateName) {
			return nil, err
		}
		proxy, _ = m.GetComponent(name)
	}

	if rc, ok := m.GetComponent(requirer); ok && rc.State() != component.Constructed && proxy.State() == component.Constructed {
		if err := proxy.Create(ctx); err != nil {
			return nil, err
		}
	}

	return m.Connect(ctx, requirer, required, name, provided)
}

// ProxyName имя прокси удаленного компонента
func ProxyName(process, provider string) string {
	return process + ":" + provider
}

// Disconnect разрывает соединение; ожидающие вызовы завершаются с FunctionUnavailable
func (m *Manager) Disconnect(ctx context.Context, id string) error {
	m.mu.Lock()
	b, ok := m.connections[id]
	if !ok {
		m.mu.Unlock()
		return core.Errorf(core.ErrNotConnected, "connection %s not found", id)
	}
	if rc, ok := m.components[b.conn.Requirer]; ok && rc.State() == component.Active {
		m.mu.Unlock()
		return core.Errorf(core.ErrInvalidState, "requirer %s is ACTIVE", b.conn.Requirer)
	}
	delete(m.connections, id)
	m.mu.Unlock()

	if _, err := interfaces.Unbind(b.required); err != nil {
		return err
	}

	m.opts.logger.Info("disconnected", "connection", b.conn.String(), "id", id)
	m.publish(ctx, &events.ConnectionChange{
		ID:           uuid.NewString(),
		Type:         events.TypeConnectionRemoved,
		ConnectionID: id,
		Requirer:     b.conn.Requirer,
		Required:     b.conn.RequiredInterface,
		Provider:     b.conn.Provider,
		Provided:     b.conn.ProvidedInterface,
		Queued:       b.conn.Queued,
		Time:         time.Now(),
	})
	return nil
}

// Connections возвращает установленные соединения, упорядоченные по requirer и интерфейсу
func (m *Manager) Connections() []interfaces.Connection {
	m.mu.RLock()
	out := make([]interfaces.Connection, 0, len(m.connections))
	for _, b := range m.connections {
		out = append(out, *b.conn)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Requirer != out[j].Requirer {
			return out[i].Requirer < out[j].Requirer
		}
		return out[i].RequiredInterface < out[j].RequiredInterface
	})
	return out
}

func (m *Manager) onTransition(c component.Component, t component.Transition) {
	if current, ok := m.GetComponent(c.Name()); !ok || current != c {
		return
	}

	if t.To == component.Error {
		m.opts.logger.Error("component failed", "component", t.Component, "from", t.From, "err", t.Err)
	} else {
		m.opts.logger.Debug("state changed", "component", t.Component, "from", t.From, "to", t.To)
	}

	ctx := context.Background()
	if m.opts.recorder != nil {
		m.opts.recorder.StateChanged(ctx, t.Component, t.From.String(), t.To.String())
	}
	m.publish(ctx, events.NewStateChange(t.Component, t.From.String(), t.To.String(), t.Err, t.Time))
}

func (m *Manager) publish(ctx context.Context, event events.Event) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.opts.logger.Warn("event dropped", "event", event.EventType(), "source", event.Source(), "err", err)
	}
}
