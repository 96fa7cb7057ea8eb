package mailbox

import (
	"context"
	"sync"
	"time"

	"github.com/akriventsev/taskflow/framework/command"
)

// Future результат вызова, выполняемого в потоке владельца
type Future struct {
	once   sync.Once
	done   chan struct{}
	out    any
	result command.Result
}

// NewFuture создает незавершенный Future
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Completed создает уже завершенный Future
func Completed(out any, result command.Result) *Future {
	f := NewFuture()
	f.complete(out, result)
	return f
}

func (f *Future) complete(out any, result command.Result) {
	f.once.Do(func() {
		f.out = out
		f.result = result
		close(f.done)
	})
}

// Done закрывается по завершении вызова
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Poll возвращает результат без ожидания; ok=false пока вызов не выполнен
func (f *Future) Poll() (out any, result command.Result, ok bool) {
	select {
	case <-f.done:
		return f.out, f.result, true
	default:
		return nil, command.Queued, false
	}
}

// Wait ждет результат не дольше timeout (0 - без ограничения) или до отмены ctx
func (f *Future) Wait(ctx context.Context, timeout time.Duration) (any, command.Result) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-f.done:
		return f.out, f.result
	case <-expired:
		return nil, command.Timeout
	case <-ctx.Done():
		return nil, command.Timeout
	}
}
