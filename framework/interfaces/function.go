package interfaces

import (
	"context"
	"sync"
	"time"

	"github.com/akriventsev/taskflow/framework/command"
	"github.com/akriventsev/taskflow/framework/mailbox"
)

// Function заместитель команды партнера в требуемом интерфейсе.
// До соединения любой вызов возвращает FunctionUnavailable.
type Function struct {
	iface  *Required
	name   string
	kind   command.Kind
	input  command.Prototype
	output command.Prototype

	mu     sync.RWMutex
	target *command.Command
	mbox   *mailbox.Mailbox
	label  [2]string // компонент и интерфейс партнера
}

// Name возвращает имя функции
func (f *Function) Name() string { return f.name }

// Kind возвращает вариант функции
func (f *Function) Kind() command.Kind { return f.kind }

// Input возвращает прототип входного аргумента
func (f *Function) Input() command.Prototype { return f.input }

// Output возвращает прототип выходного аргумента
func (f *Function) Output() command.Prototype { return f.output }

// IsBound сообщает, связана ли функция с командой партнера
func (f *Function) IsBound() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.target != nil
}

// IsQueued сообщает, идут ли вызовы через mailbox партнера
func (f *Function) IsQueued() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mbox != nil
}

func (f *Function) bind(target *command.Command, mbox *mailbox.Mailbox, provider, iface string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.target = target
	f.mbox = mbox
	f.label = [2]string{provider, iface}
}

func (f *Function) unbind() {
	f.bind(nil, nil, "", "")
}

// Call вызывает команду партнера.
// Варианты с результатом всегда блокируют; Void и Write по умолчанию не ждут выполнения.
func (f *Function) Call(ctx context.Context, arg any, opts ...CallOption) (any, command.Result) {
	co := callOptions{
		blocking: f.kind.HasOutput(),
		timeout:  f.iface.settings.timeout,
	}
	for _, opt := range opts {
		opt(&co)
	}
	if f.kind.HasOutput() {
		co.blocking = true
	}

	start := time.Now()
	out, res := f.call(ctx, arg, co)
	f.observe(ctx, res, time.Since(start))
	return out, res
}

func (f *Function) call(ctx context.Context, arg any, co callOptions) (any, command.Result) {
	f.mu.RLock()
	target, mbox := f.target, f.mbox
	f.mu.RUnlock()

	if target == nil {
		return nil, command.FunctionUnavailable
	}
	// Отключение, случившееся пока вызов в очереди, обрабатывает ExecuteErr
	if !target.IsEnabled() {
		return nil, command.Disabled
	}

	if f.kind.HasInput() {
		coerced, ok := f.input.Coerce(arg)
		if !ok {
			return nil, command.ArgumentMismatch
		}
		arg = coerced
	}

	var (
		out any
		res command.Result
	)
	switch {
	case mbox == nil:
		out, res = target.Execute(ctx, arg)
	case !co.blocking:
		return nil, mbox.Post(&mailbox.Invocation{Command: target, Arg: arg, Ctx: ctx})
	default:
		future := mailbox.NewFuture()
		if res = mbox.Post(&mailbox.Invocation{Command: target, Arg: arg, Ctx: ctx, Future: future}); res != command.Queued {
			return nil, res
		}
		out, res = future.Wait(ctx, co.timeout)
	}

	if res != command.Success || !f.kind.HasOutput() {
		return nil, res
	}
	coerced, ok := f.output.Coerce(out)
	if !ok {
		return nil, command.ArgumentMismatch
	}
	return coerced, command.Success
}

// CallAsync ставит вызов в очередь и возвращает Future для последующего опроса.
// Для прямых соединений вызов выполняется сразу.
func (f *Function) CallAsync(ctx context.Context, arg any) *mailbox.Future {
	f.mu.RLock()
	target, mbox := f.target, f.mbox
	f.mu.RUnlock()

	if target == nil {
		return mailbox.Completed(nil, command.FunctionUnavailable)
	}
	if mbox == nil {
		out, res := f.Call(ctx, arg)
		return mailbox.Completed(out, res)
	}
	if !target.IsEnabled() {
		return mailbox.Completed(nil, command.Disabled)
	}
	if f.kind.HasInput() {
		coerced, ok := f.input.Coerce(arg)
		if !ok {
			return mailbox.Completed(nil, command.ArgumentMismatch)
		}
		arg = coerced
	}

	future := mailbox.NewFuture()
	if res := mbox.Post(&mailbox.Invocation{Command: target, Arg: arg, Ctx: ctx, Future: future}); res != command.Queued {
		return mailbox.Completed(nil, res)
	}
	return future
}

func (f *Function) observe(ctx context.Context, res command.Result, elapsed time.Duration) {
	observer := f.iface.settings.observer
	if observer == nil {
		return
	}
	f.mu.RLock()
	label := f.label
	f.mu.RUnlock()
	if label[0] == "" && f.iface.owner != nil {
		label = [2]string{f.iface.owner.Name(), f.iface.name}
	}
	observer.CommandExecuted(ctx, label[0], label[1], f.name, res, elapsed)
}
