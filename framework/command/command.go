package command

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/akriventsev/taskflow/framework/core"
)

// Handler нетипизированная операция, стоящая за командой.
// Для вариантов без входа arg == nil, для вариантов без выхода результат игнорируется.
type Handler func(ctx context.Context, arg any) (any, error)

// Command именованная операция предоставленного интерфейса.
// После регистрации неизменяема, кроме флага enabled.
type Command struct {
	name     string
	kind     Kind
	handler  Handler
	input    Prototype
	output   Prototype
	queueing core.Queueing
	enabled  atomic.Bool
}

// Option настройка команды
type Option func(*Command)

// WithQueueing переопределяет политику очереди для одной команды
func WithQueueing(q core.Queueing) Option {
	return func(c *Command) {
		c.queueing = q
	}
}

// New создает команду и проверяет соответствие прототипов варианту
func New(name string, kind Kind, handler Handler, input, output Prototype, opts ...Option) (*Command, error) {
	if name == "" {
		return nil, core.NewError(core.ErrInvalidConfig, "command name is empty")
	}
	if handler == nil {
		return nil, core.Errorf(core.ErrInvalidConfig, "command %s has no handler", name)
	}
	if kind.HasInput() == input.IsZero() {
		return nil, core.Errorf(core.ErrInvalidConfig, "command %s: input prototype does not match kind %s", name, kind)
	}
	if kind.HasOutput() == output.IsZero() {
		return nil, core.Errorf(core.ErrInvalidConfig, "command %s: output prototype does not match kind %s", name, kind)
	}

	c := &Command{
		name:    name,
		kind:    kind,
		handler: handler,
		input:   input,
		output:  output,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.enabled.Store(true)
	return c, nil
}

// Name возвращает имя команды
func (c *Command) Name() string { return c.name }

// Kind возвращает вариант команды
func (c *Command) Kind() Kind { return c.kind }

// Input возвращает прототип входного аргумента
func (c *Command) Input() Prototype { return c.input }

// Output возвращает прототип выходного аргумента
func (c *Command) Output() Prototype { return c.output }

// QueueingPolicy возвращает политику очереди команды
func (c *Command) QueueingPolicy() core.Queueing { return c.queueing }

// Queueable сообщает, может ли вызов команды идти через mailbox
func (c *Command) Queueable() bool {
	return c.kind.Queueable() && c.queueing != core.Direct
}

// Enable включает команду
func (c *Command) Enable() { c.enabled.Store(true) }

// Disable выключает команду; вызовы возвращают Disabled без выполнения
func (c *Command) Disable() { c.enabled.Store(false) }

// IsEnabled сообщает, включена ли команда
func (c *Command) IsEnabled() bool { return c.enabled.Load() }

// Execute выполняет команду в текущей горутине
func (c *Command) Execute(ctx context.Context, arg any) (any, Result) {
	out, err := c.ExecuteErr(ctx, arg)
	return out, ResultOf(err)
}

// ExecuteErr выполняет команду и возвращает причину неуспеха как *ResultError
func (c *Command) ExecuteErr(ctx context.Context, arg any) (out any, err error) {
	if !c.enabled.Load() {
		return nil, &ResultError{Result: Disabled, Command: c.name}
	}

	if c.kind.HasInput() {
		coerced, ok := c.input.Coerce(arg)
		if !ok {
			return nil, &ResultError{
				Result:  ArgumentMismatch,
				Command: c.name,
				Cause:   fmt.Errorf("expected %s, got %T", c.input, arg),
			}
		}
		arg = coerced
	} else if arg != nil {
		return nil, &ResultError{
			Result:  ArgumentMismatch,
			Command: c.name,
			Cause:   fmt.Errorf("%s command takes no argument, got %T", c.kind, arg),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &ResultError{Result: Failed, Command: c.name, Cause: fmt.Errorf("panic: %v", r)}
		}
	}()

	out, err = c.handler(ctx, arg)
	if err != nil {
		if re, ok := err.(*ResultError); ok {
			if re.Command == "" {
				re.Command = c.name
			}
			return nil, re
		}
		return nil, &ResultError{Result: ResultOf(err), Command: c.name, Cause: err}
	}

	if !c.kind.HasOutput() {
		return nil, nil
	}
	coerced, ok := c.output.Coerce(out)
	if !ok {
		return nil, &ResultError{
			Result:  ArgumentMismatch,
			Command: c.name,
			Cause:   fmt.Errorf("handler returned %T, expected %s", out, c.output),
		}
	}
	return coerced, nil
}
