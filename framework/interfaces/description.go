package interfaces

import "github.com/akriventsev/taskflow/framework/command"

// ArgDescription форма аргумента для интроспекции и прокси
type ArgDescription struct {
	Tag  string  `json:"tag,omitempty" yaml:"tag,omitempty"`
	Size uintptr `json:"size,omitempty" yaml:"size,omitempty"`
}

// DescribeArg описывает прототип
func DescribeArg(p command.Prototype) ArgDescription {
	return ArgDescription{Tag: p.Tag(), Size: p.Size()}
}

// Prototype восстанавливает удаленный прототип из описания
func (a ArgDescription) Prototype() command.Prototype {
	if a.Tag == "" {
		return command.None()
	}
	return command.RemotePrototype(a.Tag, a.Size)
}

// CommandDescription описание команды или функции
type CommandDescription struct {
	Name    string         `json:"name"`
	Kind    command.Kind   `json:"kind"`
	Input   ArgDescription `json:"input"`
	Output  ArgDescription `json:"output"`
	Enabled bool           `json:"enabled"`
}

// EventDescription описание события или обработчика
type EventDescription struct {
	Name    string         `json:"name"`
	Kind    command.Kind   `json:"kind"`
	Payload ArgDescription `json:"payload"`
}

// ProvidedDescription описание предоставленного интерфейса
type ProvidedDescription struct {
	Name        string               `json:"name"`
	Queueing    string               `json:"queueing"`
	MailboxSize int                  `json:"mailbox_size"`
	Commands    []CommandDescription `json:"commands"`
	Events      []EventDescription   `json:"events,omitempty"`
	Subscribers []Connection         `json:"subscribers,omitempty"`
}

// RequiredDescription описание требуемого интерфейса
type RequiredDescription struct {
	Name          string               `json:"name"`
	Optional      bool                 `json:"optional"`
	Connection    *Connection          `json:"connection,omitempty"`
	Functions     []CommandDescription `json:"functions"`
	EventHandlers []EventDescription   `json:"event_handlers,omitempty"`
}

// Describe возвращает описание интерфейса без побочных эффектов
func (p *Provided) Describe() ProvidedDescription {
	d := ProvidedDescription{
		Name:        p.name,
		Queueing:    p.Queueing().String(),
		MailboxSize: p.settings.mailboxSize,
		Commands:    make([]CommandDescription, 0),
		Subscribers: p.Subscribers(),
	}
	for _, name := range p.CommandNames() {
		cmd, res := p.GetCommand(name)
		if !res.IsOK() {
			continue
		}
		d.Commands = append(d.Commands, CommandDescription{
			Name:    name,
			Kind:    cmd.Kind(),
			Input:   DescribeArg(cmd.Input()),
			Output:  DescribeArg(cmd.Output()),
			Enabled: cmd.IsEnabled(),
		})
	}
	for _, name := range p.EventNames() {
		if g, ok := p.Event(name); ok {
			d.Events = append(d.Events, EventDescription{Name: name, Kind: g.kind, Payload: DescribeArg(g.payload)})
		}
	}
	return d
}

// Describe возвращает описание интерфейса без побочных эффектов
func (r *Required) Describe() RequiredDescription {
	d := RequiredDescription{
		Name:       r.name,
		Optional:   r.settings.optional,
		Connection: r.Connection(),
		Functions:  make([]CommandDescription, 0),
	}
	for _, name := range r.FunctionNames() {
		f, ok := r.Function(name)
		if !ok {
			continue
		}
		d.Functions = append(d.Functions, CommandDescription{
			Name:    name,
			Kind:    f.kind,
			Input:   DescribeArg(f.input),
			Output:  DescribeArg(f.output),
			Enabled: f.IsBound(),
		})
	}
	for _, name := range r.EventHandlerNames() {
		if h, ok := r.EventHandler(name); ok {
			d.EventHandlers = append(d.EventHandlers, EventDescription{Name: name, Kind: h.Kind(), Payload: DescribeArg(h.cmd.Input())})
		}
	}
	return d
}
