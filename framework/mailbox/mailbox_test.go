package mailbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/taskflow/framework/command"
)

type record struct {
	producer int
	seq      int
}

func recorder(t *testing.T, mu *sync.Mutex, got *[]record) *command.Command {
	t.Helper()
	cmd, err := command.NewWrite("Record", func(ctx context.Context, r record) error {
		mu.Lock()
		*got = append(*got, r)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	return cmd
}

func TestMailbox_FIFO(t *testing.T) {
	var mu sync.Mutex
	var got []record
	cmd := recorder(t, &mu, &got)

	mb := New("A.Out", 16)
	for i := 0; i < 10; i++ {
		require.Equal(t, command.Queued, mb.Post(&Invocation{Command: cmd, Arg: record{seq: i}}))
	}
	assert.Equal(t, 10, mb.ProcessAll())

	require.Len(t, got, 10)
	for i, r := range got {
		assert.Equal(t, i, r.seq)
	}
}

func TestMailbox_FIFOAcrossProducers(t *testing.T) {
	var mu sync.Mutex
	var got []record
	cmd := recorder(t, &mu, &got)

	const producers, perProducer = 4, 50
	mb := New("A.Out", producers*perProducer)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				mb.Post(&Invocation{Command: cmd, Arg: record{producer: p, seq: i}})
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, producers*perProducer, mb.ProcessAll())

	// Порядок каждого отправителя сохраняется
	last := map[int]int{}
	for p := 0; p < producers; p++ {
		last[p] = -1
	}
	for _, r := range got {
		assert.Greater(t, r.seq, last[r.producer])
		last[r.producer] = r.seq
	}
}

func TestMailbox_QueueFull(t *testing.T) {
	cmd, _ := command.NewVoid("Noop", func(ctx context.Context) error { return nil })
	mb := New("small", 2)

	assert.Equal(t, command.Queued, mb.Post(&Invocation{Command: cmd}))
	assert.Equal(t, command.Queued, mb.Post(&Invocation{Command: cmd}))
	assert.Equal(t, command.QueueFull, mb.Post(&Invocation{Command: cmd}))
	assert.Equal(t, 2, mb.Len())
}

func TestMailbox_ProcessAllLeavesLatePosts(t *testing.T) {
	mb := New("reentrant", 8)

	var cmd *command.Command
	cmd, _ = command.NewVoid("Repost", func(ctx context.Context) error {
		mb.Post(&Invocation{Command: cmd})
		return nil
	})
	mb.Post(&Invocation{Command: cmd})

	assert.Equal(t, 1, mb.ProcessAll())
	assert.Equal(t, 1, mb.Len())
}

func TestMailbox_FutureBlocking(t *testing.T) {
	cmd, _ := command.NewWriteReturn("Double", func(ctx context.Context, v int) (int, error) {
		return v * 2, nil
	})
	mb := New("A.Out", 4)

	future := NewFuture()
	require.Equal(t, command.Queued, mb.Post(&Invocation{Command: cmd, Arg: 21, Future: future}))

	_, _, ok := future.Poll()
	assert.False(t, ok)

	go func() {
		time.Sleep(10 * time.Millisecond)
		mb.ProcessAll()
	}()

	out, res := future.Wait(context.Background(), time.Second)
	assert.Equal(t, command.Success, res)
	assert.Equal(t, 42, out)
}

func TestMailbox_FutureTimeout(t *testing.T) {
	cmd, _ := command.NewVoid("Slow", func(ctx context.Context) error { return nil })
	mb := New("A.Out", 4)

	future := NewFuture()
	mb.Post(&Invocation{Command: cmd, Future: future})

	_, res := future.Wait(context.Background(), 20*time.Millisecond)
	assert.Equal(t, command.Timeout, res)
}

func TestMailbox_CloseFailsPending(t *testing.T) {
	calls := 0
	cmd, _ := command.NewVoid("Count", func(ctx context.Context) error {
		calls++
		return nil
	})
	mb := New("A.Out", 4)

	future := NewFuture()
	mb.Post(&Invocation{Command: cmd, Future: future})
	mb.Post(&Invocation{Command: cmd})

	assert.Equal(t, 2, mb.Close())
	_, res := future.Wait(context.Background(), time.Second)
	assert.Equal(t, command.FunctionUnavailable, res)
	assert.Equal(t, 0, calls)

	assert.Equal(t, command.FunctionUnavailable, mb.Post(&Invocation{Command: cmd}))
	assert.True(t, mb.IsClosed())
}

func TestMailbox_Signal(t *testing.T) {
	signal := make(chan struct{}, 1)
	cmd, _ := command.NewVoid("Noop", func(ctx context.Context) error { return nil })
	mb := New("A.Out", 4, WithSignal(signal))

	mb.Post(&Invocation{Command: cmd})
	mb.Post(&Invocation{Command: cmd})

	select {
	case <-signal:
	default:
		t.Fatal("expected wake-up signal")
	}
}

type depthObserver struct {
	mu    sync.Mutex
	depth int64
}

func (o *depthObserver) MailboxDepth(ctx context.Context, name string, delta int64) {
	o.mu.Lock()
	o.depth += delta
	o.mu.Unlock()
}

func TestMailbox_Observer(t *testing.T) {
	obs := &depthObserver{}
	cmd, _ := command.NewVoid("Noop", func(ctx context.Context) error { return nil })
	mb := New("A.Out", 4, WithObserver(obs))

	mb.Post(&Invocation{Command: cmd})
	mb.Post(&Invocation{Command: cmd})
	assert.Equal(t, int64(2), obs.depth)

	mb.ProcessAll()
	assert.Equal(t, int64(0), obs.depth)
}

func TestFuture_Completed(t *testing.T) {
	f := Completed(7, command.Success)
	out, res, ok := f.Poll()
	assert.True(t, ok)
	assert.Equal(t, command.Success, res)
	assert.Equal(t, 7, out)
}
