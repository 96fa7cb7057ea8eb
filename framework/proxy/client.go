package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akriventsev/taskflow/framework/command"
	"github.com/akriventsev/taskflow/framework/component"
	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/interfaces"
	"github.com/akriventsev/taskflow/framework/observability"
	"github.com/akriventsev/taskflow/framework/transport"
)

// Client строит локальные двойники компонентов других процессов
type Client struct {
	bus  transport.RequestReplyBus
	opts options
}

// NewClient создает клиента
func NewClient(bus transport.RequestReplyBus, opts ...Option) *Client {
	return &Client{bus: bus, opts: newOptions(opts)}
}

// Describe запрашивает описание удаленного компонента.
// Ошибки транспорта повторяются по политике повторов: процесс-владелец может еще запускаться.
func (c *Client) Describe(ctx context.Context, process, name string) (component.Description, error) {
	for attempt := 1; ; attempt++ {
		d, err := c.describe(ctx, process, name)
		if err == nil {
			return d, nil
		}
		if !core.IsErrorCode(err, core.ErrTransport) || !c.opts.retry.ShouldRetry(attempt, err) {
			if core.IsErrorCode(err, core.ErrTransport) {
				return d, core.Wrap(err, core.ErrComponentNotFound, fmt.Sprintf("%s is not reachable", Name(process, name)))
			}
			return d, err
		}

		delay := c.opts.retry.GetDelay(attempt)
		c.opts.logger.Debug("describe retry", "process", process, "component", name, "attempt", attempt, "delay", delay, "err", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return d, core.Wrap(ctx.Err(), core.ErrTimeout, "describe "+Name(process, name))
		}
	}
}

func (c *Client) describe(ctx context.Context, process, name string) (component.Description, error) {
	var d component.Description
	reply, err := c.request(ctx, DescribeSubject(c.opts.prefix, process, name), &Envelope{ID: uuid.NewString()})
	if err != nil {
		return d, err
	}
	if reply.Result != command.Success {
		return d, core.Errorf(core.ErrComponentNotFound, "%s: describe returned %s", Name(process, name), reply.Result)
	}
	if err := json.Unmarshal(reply.Payload, &d); err != nil {
		return d, core.Wrap(err, core.ErrTransport, "invalid component description")
	}
	return d, nil
}

func (c *Client) request(ctx context.Context, subject string, env *Envelope) (*Envelope, error) {
	data, err := c.opts.codec.Marshal(env)
	if err != nil {
		return nil, core.Wrap(err, core.ErrTransport, "failed to encode request")
	}
	msg, err := c.bus.Request(ctx, subject, data, c.opts.timeout)
	if err != nil {
		return nil, err
	}
	var reply Envelope
	if err := c.opts.codec.Unmarshal(msg.Data, &reply); err != nil {
		return nil, core.Wrap(err, core.ErrTransport, "invalid reply")
	}
	return &reply, nil
}

// NewComponent строит двойник удаленного компонента с теми же интерфейсами и командами.
// Команды двойника передают вызовы по шине; события удаленного компонента транслируются локально.
func (c *Client) NewComponent(ctx context.Context, process, name string) (component.Component, error) {
	d, err := c.Describe(ctx, process, name)
	if err != nil {
		return nil, err
	}

	p := &Component{client: c, process: process, remote: name}
	p.Base = component.New(Name(process, name),
		component.WithType(core.ComponentTypeProxy),
		component.WithLogger(c.opts.logger),
		component.WithStartup(p.startup),
		component.WithCleanup(p.cleanup))

	for _, iface := range d.Provided {
		if err := p.addInterface(ctx, iface); err != nil {
			p.unsubscribe()
			return nil, err
		}
	}

	c.opts.logger.Info("proxy created", "component", p.Name(), "interfaces", len(d.Provided), "remote_state", d.State)
	return p, nil
}

// Component двойник удаленного компонента.
// Пассивный: вызовы выполняются в потоке вызывающего и блокируют его на время запроса.
type Component struct {
	*component.Base
	client  *Client
	process string
	remote  string

	mu            sync.Mutex
	subscriptions []string
}

// Process возвращает процесс-владелец
func (p *Component) Process() string { return p.process }

// Remote возвращает имя компонента в процессе-владельце
func (p *Component) Remote() string { return p.remote }

func (p *Component) addInterface(ctx context.Context, desc interfaces.ProvidedDescription) error {
	prov, err := p.AddProvidedInterface(desc.Name)
	if err != nil {
		return err
	}
	subject := CommandSubject(p.client.opts.prefix, p.process, p.remote, desc.Name)

	for _, cmd := range desc.Commands {
		handler := p.forward(subject, desc.Name, cmd.Name, cmd.Kind)
		if _, err := prov.AddCommand(cmd.Name, cmd.Kind, handler, cmd.Input.Prototype(), cmd.Output.Prototype()); err != nil {
			return err
		}
	}

	for _, ev := range desc.Events {
		g, err := prov.AddEvent(ev.Name, ev.Kind, ev.Payload.Prototype())
		if err != nil {
			return err
		}
		if err := p.subscribe(ctx, EventSubject(p.client.opts.prefix, p.process, p.remote, desc.Name, ev.Name), g); err != nil {
			return err
		}
	}
	return nil
}

// forward строит обработчик команды, выполняющий ее в удаленном процессе
func (p *Component) forward(subject, iface, name string, kind command.Kind) command.Handler {
	return func(ctx context.Context, arg any) (any, error) {
		var out any
		err := observability.TraceCommand(ctx, p.client.opts.tracer, p.Name(), iface, name, func(ctx context.Context) error {
			payload, err := EncodePayload(arg)
			if err != nil {
				return &command.ResultError{Result: command.ArgumentMismatch, Command: name, Cause: err}
			}
			reply, err := p.client.request(ctx, subject, &Envelope{ID: uuid.NewString(), Command: name, Kind: kind, Payload: payload})
			if err != nil {
				result := command.NetworkError
				if core.IsErrorCode(err, core.ErrTimeout) {
					result = command.Timeout
				}
				return &command.ResultError{Result: result, Command: name, Cause: err}
			}
			observability.AnnotateResult(ctx, reply.Result.String())
			if reply.Result != command.Success {
				return &command.ResultError{Result: reply.Result, Command: name, Cause: errors.New(reply.Error)}
			}
			if kind.HasOutput() {
				out = reply.Payload
			}
			return nil
		})
		return out, err
	}
}

func (p *Component) subscribe(ctx context.Context, subject string, g *interfaces.EventGenerator) error {
	codec := p.client.opts.codec
	err := p.client.bus.Subscribe(ctx, subject, func(ctx context.Context, msg *transport.Message) error {
		var env Envelope
		if err := codec.Unmarshal(msg.Data, &env); err != nil {
			return core.Wrap(err, core.ErrTransport, "invalid event")
		}
		var payload any
		if g.Kind() == command.Write {
			payload = env.Payload
		}
		if res := g.Trigger(ctx, payload); !res.IsOK() {
			return res.Err()
		}
		return nil
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.subscriptions = append(p.subscriptions, subject)
	p.mu.Unlock()
	return nil
}

func (p *Component) unsubscribe() {
	p.mu.Lock()
	subjects := p.subscriptions
	p.subscriptions = nil
	p.mu.Unlock()

	for _, subject := range subjects {
		if err := p.client.bus.Unsubscribe(subject); err != nil {
			p.Logger().Warn("failed to unsubscribe", "component", p.Name(), "subject", subject, "err", err)
		}
	}
}

// startup проверяет, что удаленный компонент доступен и не завершился
func (p *Component) startup(ctx context.Context) error {
	d, err := p.client.describe(ctx, p.process, p.remote)
	if err != nil {
		return err
	}
	if d.State.IsTerminal() {
		return core.Errorf(core.ErrInvalidState, "remote component %s is %s", Name(p.process, p.remote), d.State)
	}
	return nil
}

func (p *Component) cleanup(ctx context.Context) error {
	p.unsubscribe()
	return nil
}

var _ component.Component = (*Component)(nil)
