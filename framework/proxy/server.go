package proxy

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/akriventsev/taskflow/framework/command"
	"github.com/akriventsev/taskflow/framework/component"
	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/interfaces"
	"github.com/akriventsev/taskflow/framework/observability"
	"github.com/akriventsev/taskflow/framework/transport"
)

// serverOwner владелец зеркальных требуемых интерфейсов.
// Без собственного потока: вызовы к задачам идут через их mailbox.
type serverOwner struct {
	name string
}

func (o serverOwner) Name() string     { return o.name }
func (o serverOwner) Executor() string { return "" }

// Server экспортирует компоненты процесса в шину
type Server struct {
	bus     transport.RequestReplyBus
	process string
	opts    options
	owner   serverOwner

	mu      sync.RWMutex
	exports map[string]*export
	stopped bool
}

type export struct {
	component component.Component
	mirrors   map[string]*interfaces.Required
}

// NewServer создает сервер процесса process
func NewServer(bus transport.RequestReplyBus, process string, opts ...Option) *Server {
	return &Server{
		bus:     bus,
		process: process,
		opts:    newOptions(opts),
		owner:   serverOwner{name: "proxy@" + process},
		exports: make(map[string]*export),
	}
}

// Export делает компонент доступным другим процессам.
// Для каждого предоставленного интерфейса создается связанный с ним зеркальный требуемый интерфейс.
func (s *Server) Export(ctx context.Context, c component.Component) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return core.NewError(core.ErrInvalidState, "proxy server is stopped")
	}
	if _, exists := s.exports[c.Name()]; exists {
		return core.Errorf(core.ErrAlreadyExists, "component %s already exported", c.Name())
	}

	exp := &export{component: c, mirrors: make(map[string]*interfaces.Required)}
	for _, name := range c.ProvidedInterfaceNames() {
		prov, ok := c.ProvidedInterface(name)
		if !ok {
			continue
		}
		mirror, err := s.mirror(c.Name(), prov)
		if err != nil {
			s.unbind(exp)
			return err
		}
		exp.mirrors[name] = mirror
	}

	if err := s.bus.Respond(ctx, DescribeSubject(s.opts.prefix, s.process, c.Name()), s.describeHandler(c)); err != nil {
		s.unbind(exp)
		return err
	}
	for name, mirror := range exp.mirrors {
		subject := CommandSubject(s.opts.prefix, s.process, c.Name(), name)
		if err := s.bus.Respond(ctx, subject, s.commandHandler(c.Name(), name, mirror)); err != nil {
			s.unbind(exp)
			return err
		}
	}

	s.exports[c.Name()] = exp
	s.opts.logger.Info("component exported", "component", c.Name(), "process", s.process, "interfaces", len(exp.mirrors))
	return nil
}

// mirror строит требуемый интерфейс той же формы и связывает его с prov
func (s *Server) mirror(componentName string, prov *interfaces.Provided) (*interfaces.Required, error) {
	desc := prov.Describe()
	req := interfaces.NewRequired(s.owner, componentName+"."+prov.Name(),
		interfaces.WithLogger(s.opts.logger),
		interfaces.WithCallTimeout(s.opts.timeout))

	for _, cmd := range desc.Commands {
		if _, err := req.AddFunction(cmd.Name, cmd.Kind, cmd.Input.Prototype(), cmd.Output.Prototype()); err != nil {
			return nil, err
		}
	}

	for _, ev := range desc.Events {
		subject := EventSubject(s.opts.prefix, s.process, componentName, prov.Name(), ev.Name)
		forward := func(ctx context.Context, arg any) (any, error) {
			return nil, s.publishEvent(ctx, subject, ev.Name, ev.Kind, arg)
		}
		cmd, err := command.New(ev.Name, ev.Kind, forward, ev.Payload.Prototype(), command.None())
		if err != nil {
			return nil, err
		}
		if _, err := req.AddEventHandler(cmd, false); err != nil {
			return nil, err
		}
	}

	if _, err := interfaces.Bind(req, prov, uuid.NewString()); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *Server) publishEvent(ctx context.Context, subject, name string, kind command.Kind, arg any) error {
	payload, err := EncodePayload(arg)
	if err != nil {
		return err
	}
	data, err := s.opts.codec.Marshal(&Envelope{ID: uuid.NewString(), Command: name, Kind: kind, Payload: payload})
	if err != nil {
		return core.Wrap(err, core.ErrTransport, "failed to encode event")
	}
	return s.bus.Publish(ctx, subject, data, nil)
}

func (s *Server) describeHandler(c component.Component) func(ctx context.Context, req *transport.Message) (*transport.Message, error) {
	return func(ctx context.Context, req *transport.Message) (*transport.Message, error) {
		var env Envelope
		if len(req.Data) > 0 {
			if err := s.opts.codec.Unmarshal(req.Data, &env); err != nil {
				return nil, core.Wrap(err, core.ErrTransport, "invalid describe request")
			}
		}

		reply := &Envelope{ID: env.ID, Result: command.Success}
		if s.isStopped() {
			reply.Result = command.FunctionUnavailable
		} else {
			data, err := json.Marshal(component.Describe(c))
			if err != nil {
				return nil, err
			}
			reply.Payload = data
		}
		return s.reply(reply)
	}
}

func (s *Server) commandHandler(componentName, iface string, mirror *interfaces.Required) func(ctx context.Context, req *transport.Message) (*transport.Message, error) {
	return func(ctx context.Context, req *transport.Message) (*transport.Message, error) {
		var env Envelope
		if err := s.opts.codec.Unmarshal(req.Data, &env); err != nil {
			return nil, core.Wrap(err, core.ErrTransport, "invalid command request")
		}
		reply := &Envelope{ID: env.ID, Command: env.Command, Kind: env.Kind}

		_ = observability.TraceCommand(ctx, s.opts.tracer, componentName, iface, env.Command, func(ctx context.Context) error {
			reply.Result, reply.Payload = s.execute(ctx, mirror, &env)
			return reply.Result.Err()
		})
		if !reply.Result.IsOK() {
			reply.Error = reply.Result.String()
			s.opts.logger.Debug("remote command failed",
				"component", componentName, "interface", iface, "command", env.Command, "result", reply.Result)
		}
		return s.reply(reply)
	}
}

func (s *Server) execute(ctx context.Context, mirror *interfaces.Required, env *Envelope) (command.Result, Payload) {
	if s.isStopped() {
		return command.FunctionUnavailable, nil
	}
	fn, ok := mirror.Function(env.Command)
	if !ok {
		return command.NotFound, nil
	}
	if fn.Kind() != env.Kind {
		return command.ArgumentMismatch, nil
	}

	var arg any
	if fn.Kind().HasInput() {
		arg = env.Payload
	}
	out, res := fn.Call(ctx, arg, interfaces.Blocking(), interfaces.WithTimeout(s.opts.timeout))
	if res != command.Success || !fn.Kind().HasOutput() {
		return res, nil
	}
	payload, err := EncodePayload(out)
	if err != nil {
		return command.Failed, nil
	}
	return command.Success, payload
}

func (s *Server) reply(env *Envelope) (*transport.Message, error) {
	data, err := s.opts.codec.Marshal(env)
	if err != nil {
		return nil, core.Wrap(err, core.ErrTransport, "failed to encode reply")
	}
	return &transport.Message{Data: data}, nil
}

// Exports возвращает отсортированные имена экспортированных компонентов
func (s *Server) Exports() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.exports))
	for name := range s.exports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stop разрывает зеркальные соединения; дальнейшие вызовы получают FunctionUnavailable
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true
	for _, exp := range s.exports {
		s.unbind(exp)
	}
	s.opts.logger.Info("proxy server stopped", "process", s.process, "exports", len(s.exports))
	return nil
}

func (s *Server) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

func (s *Server) unbind(exp *export) {
	for name, mirror := range exp.mirrors {
		if !mirror.IsConnected() {
			continue
		}
		if _, err := interfaces.Unbind(mirror); err != nil {
			s.opts.logger.Warn("failed to unbind mirror", "component", exp.component.Name(), "interface", name, "err", err)
		}
	}
}
