package interfaces

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/mailbox"
)

// Connection связь требуемого интерфейса с предоставленным
type Connection struct {
	ID                string    `json:"id"`
	Requirer          string    `json:"requirer"`
	RequiredInterface string    `json:"required_interface"`
	Provider          string    `json:"provider"`
	ProvidedInterface string    `json:"provided_interface"`
	Queued            bool      `json:"queued"`
	CreatedAt         time.Time `json:"created_at"`
}

// String возвращает описание вида "B.In -> A.Out"
func (c Connection) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", c.Requirer, c.RequiredInterface, c.Provider, c.ProvidedInterface)
}

// Validate проверяет, что каждая функция требуемого интерфейса имеет совместимую команду.
// Возвращает INTERFACE_INCOMPATIBLE со списком всех расхождений.
func Validate(req *Required, prov *Provided) error {
	req.mu.RLock()
	defer req.mu.RUnlock()
	prov.mu.RLock()
	defer prov.mu.RUnlock()

	issues, _ := validateLocked(req, prov)
	return incompatible(req, prov, issues)
}

// validateLocked возвращает несовместимости и предупреждения; блокировки держит вызывающий
func validateLocked(req *Required, prov *Provided) (issues, warnings []string) {
	for _, name := range sortedKeys(req.functions) {
		f := req.functions[name]
		cmd, ok := prov.commands[name]
		switch {
		case !ok:
			issues = append(issues, fmt.Sprintf("function %s: no such command", name))
		case cmd.Kind() != f.kind:
			issues = append(issues, fmt.Sprintf("function %s: kind %s, command is %s", name, f.kind, cmd.Kind()))
		case !f.input.Compatible(cmd.Input()):
			issues = append(issues, fmt.Sprintf("function %s: input %s, command expects %s", name, f.input, cmd.Input()))
		case !f.output.Compatible(cmd.Output()):
			issues = append(issues, fmt.Sprintf("function %s: output %s, command returns %s", name, f.output, cmd.Output()))
		}
	}

	for _, name := range sortedKeys(req.handlers) {
		h := req.handlers[name]
		g, ok := prov.events[name]
		switch {
		case !ok:
			warnings = append(warnings, fmt.Sprintf("event handler %s: no such event", name))
		case g.kind != h.cmd.Kind():
			issues = append(issues, fmt.Sprintf("event handler %s: kind %s, event is %s", name, h.cmd.Kind(), g.kind))
		case !g.payload.Compatible(h.cmd.Input()):
			issues = append(issues, fmt.Sprintf("event handler %s: payload %s, event carries %s", name, h.cmd.Input(), g.payload))
		}
	}
	return issues, warnings
}

// Bind атомарно связывает требуемый интерфейс с предоставленным:
// либо все функции и обработчики связаны, либо ничего не изменено.
func Bind(req *Required, prov *Provided, id string) (*Connection, error) {
	req.mu.Lock()
	defer req.mu.Unlock()
	prov.mu.Lock()
	defer prov.mu.Unlock()

	if req.conn != nil {
		return nil, core.Errorf(core.ErrAlreadyConnected, "%s is already connected to %s.%s",
			req.QualifiedName(), req.conn.Provider, req.conn.ProvidedInterface)
	}

	issues, warnings := validateLocked(req, prov)
	if err := incompatible(req, prov, issues); err != nil {
		return nil, err
	}
	for _, w := range warnings {
		req.settings.logger.Warn("connection warning", "required", req.QualifiedName(), "provided", prov.QualifiedName(), "detail", w)
	}

	if id == "" {
		id = uuid.New().String()
	}
	crossThread := prov.Queueing() == core.Queued && !sameExecutor(req.owner, prov.owner)
	conn := &Connection{
		ID:                id,
		Requirer:          ownerName(req.owner),
		RequiredInterface: req.name,
		Provider:          ownerName(prov.owner),
		ProvidedInterface: prov.name,
		Queued:            crossThread,
		CreatedAt:         time.Now(),
	}

	var mb *mailbox.Mailbox
	if crossThread {
		mb = mailbox.New(prov.QualifiedName()+"<-"+req.QualifiedName(), prov.settings.mailboxSize,
			mailbox.WithSignal(prov.settings.signal),
			mailbox.WithObserver(prov.settings.observer))
	}

	for name, f := range req.functions {
		cmd := prov.commands[name]
		if cmd.Queueable() {
			f.bind(cmd, mb, conn.Provider, prov.name)
		} else {
			f.bind(cmd, nil, conn.Provider, prov.name)
		}
	}

	eventsCrossThread := req.events != nil && !sameExecutor(req.owner, prov.owner)
	for name, h := range req.handlers {
		g, ok := prov.events[name]
		if !ok {
			continue
		}
		h.setBinding(true, h.queued && eventsCrossThread)
		g.attach(conn.ID, h)
	}

	req.conn = conn
	req.provided = prov
	prov.endpoints[conn.ID] = &endpoint{conn: conn, mailbox: mb}

	req.settings.logger.Debug("interfaces connected", "connection", conn.String(), "id", conn.ID, "queued", conn.Queued)
	return conn, nil
}

// Unbind разрывает соединение требуемого интерфейса.
// Ожидающие вызовы завершаются с FunctionUnavailable.
func Unbind(req *Required) (*Connection, error) {
	req.mu.Lock()
	defer req.mu.Unlock()

	if req.conn == nil {
		return nil, core.Errorf(core.ErrNotConnected, "%s is not connected", req.QualifiedName())
	}
	conn, prov := req.conn, req.provided

	prov.mu.Lock()
	ep := prov.endpoints[conn.ID]
	delete(prov.endpoints, conn.ID)
	for name := range req.handlers {
		if g, ok := prov.events[name]; ok {
			g.detach(conn.ID)
		}
	}
	prov.mu.Unlock()

	for _, f := range req.functions {
		f.unbind()
	}
	for _, h := range req.handlers {
		h.setBinding(false, false)
	}
	if ep != nil && ep.mailbox != nil {
		ep.mailbox.Close()
	}

	req.conn = nil
	req.provided = nil
	req.settings.logger.Debug("interfaces disconnected", "connection", conn.String(), "id", conn.ID)
	return conn, nil
}

func incompatible(req *Required, prov *Provided, issues []string) error {
	if len(issues) == 0 {
		return nil
	}
	return core.Errorf(core.ErrInterfaceIncompatible, "%s is incompatible with %s: %s",
		req.QualifiedName(), prov.QualifiedName(), strings.Join(issues, "; "))
}

func sameExecutor(a, b Owner) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Executor() != "" && a.Executor() == b.Executor()
}

func ownerName(o Owner) string {
	if o == nil {
		return ""
	}
	return o.Name()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
