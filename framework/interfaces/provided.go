package interfaces

import (
	"sort"
	"sync"

	"github.com/akriventsev/taskflow/framework/command"
	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/mailbox"
)

// Provided именованный набор команд, который компонент предоставляет другим
type Provided struct {
	owner    Owner
	name     string
	settings settings

	mu        sync.RWMutex
	commands  map[string]*command.Command
	events    map[string]*EventGenerator
	endpoints map[string]*endpoint
}

// endpoint обслуживаемое соединение и его mailbox (nil для прямых вызовов)
type endpoint struct {
	conn    *Connection
	mailbox *mailbox.Mailbox
}

// NewProvided создает предоставленный интерфейс
func NewProvided(owner Owner, name string, opts ...Option) *Provided {
	return &Provided{
		owner:     owner,
		name:      name,
		settings:  newSettings(opts),
		commands:  make(map[string]*command.Command),
		events:    make(map[string]*EventGenerator),
		endpoints: make(map[string]*endpoint),
	}
}

// Name возвращает имя интерфейса
func (p *Provided) Name() string { return p.name }

// Owner возвращает владельца интерфейса
func (p *Provided) Owner() Owner { return p.owner }

// QualifiedName возвращает имя вида "компонент.интерфейс"
func (p *Provided) QualifiedName() string { return qualified(p.owner, p.name) }

// Queueing возвращает действующую политику очереди
func (p *Provided) Queueing() core.Queueing {
	if p.settings.queueing != core.QueueingDefault {
		return p.settings.queueing
	}
	if p.owner != nil && p.owner.Executor() != "" {
		return core.Queued
	}
	return core.Direct
}

// MailboxSize возвращает емкость mailbox на соединение
func (p *Provided) MailboxSize() int { return p.settings.mailboxSize }

// AddCommand регистрирует новую команду
func (p *Provided) AddCommand(name string, kind command.Kind, handler command.Handler, in, out command.Prototype, opts ...command.Option) (*command.Command, error) {
	cmd, err := command.New(name, kind, handler, in, out, opts...)
	if err != nil {
		return nil, err
	}
	if err := p.Register(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Register добавляет готовую команду; имя должно быть уникальным в интерфейсе
func (p *Provided) Register(cmd *command.Command) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.commands[cmd.Name()]; exists {
		return core.Errorf(core.ErrAlreadyExists, "command %s already exists in %s", cmd.Name(), p.QualifiedName())
	}
	if _, exists := p.events[cmd.Name()]; exists {
		return core.Errorf(core.ErrAlreadyExists, "name %s is used by an event in %s", cmd.Name(), p.QualifiedName())
	}
	p.commands[cmd.Name()] = cmd
	p.settings.logger.Debug("command added", "interface", p.QualifiedName(), "command", cmd.Name(), "kind", cmd.Kind())
	return nil
}

// GetCommand возвращает команду или NotFound
func (p *Provided) GetCommand(name string) (*command.Command, command.Result) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cmd, ok := p.commands[name]
	if !ok {
		return nil, command.NotFound
	}
	return cmd, command.Success
}

// CommandNames возвращает имена всех команд в отсортированном порядке
func (p *Provided) CommandNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.commands))
	for name := range p.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NamesOfCommands возвращает отсортированные имена команд указанного варианта
func (p *Provided) NamesOfCommands(kind command.Kind) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0)
	for name, cmd := range p.commands {
		if cmd.Kind() == kind {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// CommandsByKind группирует имена команд по вариантам
func (p *Provided) CommandsByKind() map[command.Kind][]string {
	result := make(map[command.Kind][]string)
	for _, kind := range command.Kinds() {
		if names := p.NamesOfCommands(kind); len(names) > 0 {
			result[kind] = names
		}
	}
	return result
}

// Subscribers возвращает обслуживаемые соединения
func (p *Provided) Subscribers() []Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]Connection, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		result = append(result, *ep.conn)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// ProcessMailboxes выполняет ожидающие вызовы всех соединений.
// Вызывается потоком владельца один раз за цикл.
func (p *Provided) ProcessMailboxes() int {
	processed := 0
	for _, mb := range p.mailboxes() {
		processed += mb.ProcessAll()
	}
	return processed
}

// PendingInvocations возвращает суммарную глубину очередей
func (p *Provided) PendingInvocations() int {
	pending := 0
	for _, mb := range p.mailboxes() {
		pending += mb.Len()
	}
	return pending
}

// CloseMailboxes закрывает очереди всех соединений; ожидающие получают FunctionUnavailable
func (p *Provided) CloseMailboxes() int {
	dropped := 0
	for _, mb := range p.mailboxes() {
		dropped += mb.Close()
	}
	return dropped
}

func (p *Provided) mailboxes() []*mailbox.Mailbox {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*mailbox.Mailbox, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		if ep.mailbox != nil {
			result = append(result, ep.mailbox)
		}
	}
	return result
}
