package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/taskflow/framework/command"
	"github.com/akriventsev/taskflow/framework/component"
	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/interfaces"
	"github.com/akriventsev/taskflow/framework/statetable"
)

func waitState(t *testing.T, tk *Task, state component.State) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, tk.WaitForState(ctx, state))
}

func startTask(t *testing.T, tk *Task) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, tk.Create(ctx))
	waitState(t, tk, component.Ready)
	require.NoError(t, tk.Start(ctx))
	waitState(t, tk, component.Active)
}

func killTask(t *testing.T, tk *Task) {
	t.Helper()
	require.NoError(t, tk.Kill(context.Background()))
	waitState(t, tk, component.Finished)
}

type hooks struct {
	startups atomic.Int32
	cleanups atomic.Int32
	runs     atomic.Int64
	startErr error
}

func (h *hooks) Startup(ctx context.Context) error {
	h.startups.Add(1)
	return h.startErr
}

func (h *hooks) Cleanup(ctx context.Context) error {
	h.cleanups.Add(1)
	return nil
}

func (h *hooks) Run(ctx context.Context) error {
	h.runs.Add(1)
	return nil
}

func TestNewPeriodic_InvalidPeriod(t *testing.T) {
	_, err := NewPeriodic("A", 0, nil)
	assert.True(t, core.IsErrorCode(err, core.ErrInvalidConfig))

	_, err = NewContinuous("", nil)
	assert.True(t, core.IsErrorCode(err, core.ErrInvalidConfig))
}

func TestTask_Identity(t *testing.T) {
	tk, err := NewPeriodic("A", 10*time.Millisecond, nil, WithoutOSThread())
	require.NoError(t, err)

	assert.Equal(t, "A", tk.Name())
	assert.Equal(t, "A", tk.Executor())
	assert.Equal(t, core.ComponentTypeTask, tk.Type())
	assert.Equal(t, Periodic, tk.Policy())
	assert.Equal(t, "periodic", tk.Policy().String())
	assert.Equal(t, component.Constructed, tk.State())
	assert.Equal(t, []string{StateTableInterface}, tk.ProvidedInterfaceNames())

	p, _ := tk.AddProvidedInterface("Out")
	assert.Equal(t, core.Queued, p.Queueing())
}

func TestTask_LifecycleHistory(t *testing.T) {
	h := &hooks{}
	tk, err := NewPeriodic("A", 5*time.Millisecond, h)
	require.NoError(t, err)

	startTask(t, tk)
	killTask(t, tk)

	assert.EqualValues(t, 1, h.startups.Load())
	assert.EqualValues(t, 1, h.cleanups.Load())
	assert.Positive(t, h.runs.Load())

	var path []string
	for _, rec := range tk.Lifecycle().History() {
		path = append(path, rec.To)
	}
	assert.Equal(t, []string{"INITIALIZING", "READY", "ACTIVE", "FINISHING", "FINISHED"}, path)

	select {
	case <-tk.Done():
	case <-time.After(time.Second):
		t.Fatal("task thread did not exit")
	}
}

func TestTask_StartBeforeCreate(t *testing.T) {
	tk, _ := NewContinuous("A", nil)
	err := tk.Start(context.Background())
	assert.True(t, core.IsErrorCode(err, core.ErrInvalidState))

	// Kill до Create ничего не делает
	require.NoError(t, tk.Kill(context.Background()))
	assert.Equal(t, component.Constructed, tk.State())
}

func TestTask_PeriodicCycleCount(t *testing.T) {
	h := &hooks{}
	tk, err := NewPeriodic("A", 50*time.Millisecond, h)
	require.NoError(t, err)

	startTask(t, tk)
	time.Sleep(time.Second)
	killTask(t, tk)

	stats := tk.Stats()
	assert.InDelta(t, 20, stats.Cycles, 2)
	assert.Zero(t, stats.Overruns)
	assert.Equal(t, 50*time.Millisecond, stats.Period)
	assert.InDelta(t, float64(50*time.Millisecond), float64(stats.PeriodAvg), float64(5*time.Millisecond))
}

func TestTask_PeriodicDoesNotDrift(t *testing.T) {
	const period = 20 * time.Millisecond
	var (
		mu     sync.Mutex
		starts []time.Time
	)
	tk, err := NewPeriodic("A", period, RunnerFunc(func(ctx context.Context) error {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		// Тело занимает часть периода; сетка дедлайнов не должна сдвигаться на это время
		time.Sleep(5 * time.Millisecond)
		return nil
	}))
	require.NoError(t, err)

	startTask(t, tk)
	time.Sleep(500 * time.Millisecond)
	killTask(t, tk)

	mu.Lock()
	defer mu.Unlock()
	require.Greater(t, len(starts), 10)
	span := starts[len(starts)-1].Sub(starts[0])
	avg := span / time.Duration(len(starts)-1)
	assert.InDelta(t, float64(period), float64(avg), float64(2*time.Millisecond))
}

func TestTask_OverrunsAreCounted(t *testing.T) {
	tk, err := NewPeriodic("A", 10*time.Millisecond, RunnerFunc(func(ctx context.Context) error {
		time.Sleep(25 * time.Millisecond)
		return nil
	}))
	require.NoError(t, err)

	startTask(t, tk)
	time.Sleep(300 * time.Millisecond)
	killTask(t, tk)

	stats := tk.Stats()
	assert.Positive(t, stats.Cycles)
	// Каждый цикл превышает период; задача продолжает работать
	assert.Equal(t, stats.Cycles, stats.Overruns)
	assert.Equal(t, component.Finished, tk.State())
	assert.GreaterOrEqual(t, stats.ComputeMax, 25*time.Millisecond)
}

type cycleRecorder struct {
	cycles   atomic.Int64
	overruns atomic.Int64
}

func (r *cycleRecorder) TaskCycle(ctx context.Context, task string, compute time.Duration, overrun bool) {
	r.cycles.Add(1)
	if overrun {
		r.overruns.Add(1)
	}
}

func TestTask_Recorder(t *testing.T) {
	rec := &cycleRecorder{}
	tk, err := NewPeriodic("A", 5*time.Millisecond, nil, WithRecorder(rec))
	require.NoError(t, err)

	startTask(t, tk)
	time.Sleep(50 * time.Millisecond)
	killTask(t, tk)

	assert.Equal(t, int64(tk.Stats().Cycles), rec.cycles.Load())
}

func TestTask_QueuedCommands(t *testing.T) {
	var value atomic.Value
	value.Store(0.0)
	a, err := NewPeriodic("A", 10*time.Millisecond, nil)
	require.NoError(t, err)

	out, err := a.AddProvidedInterface("Out")
	require.NoError(t, err)
	_, err = interfaces.AddCommandWrite(out, "SetValue", func(ctx context.Context, v float64) error {
		value.Store(v)
		return nil
	})
	require.NoError(t, err)
	_, err = interfaces.AddCommandVoidReturn(out, "GetValue", func(ctx context.Context) (float64, error) {
		return value.Load().(float64), nil
	})
	require.NoError(t, err)

	b := component.New("B")
	in, _ := b.AddRequiredInterface("In")
	set, _ := interfaces.AddFunctionWrite[float64](in, "SetValue")
	get, _ := interfaces.AddFunctionVoidReturn[float64](in, "GetValue")

	conn, err := interfaces.Bind(in, out, "")
	require.NoError(t, err)
	assert.True(t, conn.Queued)

	startTask(t, a)
	defer killTask(t, a)

	assert.Equal(t, command.Queued, set.Execute(context.Background(), 42))
	// Очередь FIFO: чтение выполняется после записи
	v, res := get.Execute(context.Background(), interfaces.WithTimeout(time.Second))
	require.Equal(t, command.Success, res)
	assert.Equal(t, 42.0, v)
}

func TestTask_KillFailsPendingInvocations(t *testing.T) {
	a, err := NewPeriodic("A", 10*time.Millisecond, nil)
	require.NoError(t, err)
	out, _ := a.AddProvidedInterface("Out")
	_, err = interfaces.AddCommandVoid(out, "Ping", func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	b := component.New("B")
	in, _ := b.AddRequiredInterface("In")
	ping, _ := interfaces.AddFunctionVoid(in, "Ping")
	_, err = interfaces.Bind(in, out, "")
	require.NoError(t, err)

	// В READY очередь не обрабатывается: вызов ждет
	require.NoError(t, a.Create(context.Background()))
	waitState(t, a, component.Ready)

	result := make(chan command.Result, 1)
	go func() {
		result <- ping.Execute(context.Background(), interfaces.Blocking(), interfaces.WithTimeout(5*time.Second))
	}()
	require.Eventually(t, func() bool { return out.PendingInvocations() == 1 }, time.Second, time.Millisecond)

	killTask(t, a)
	select {
	case res := <-result:
		assert.Equal(t, command.FunctionUnavailable, res)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked caller was not released")
	}
}

func TestTask_RunErrorMovesToError(t *testing.T) {
	var runs atomic.Int32
	tk, err := NewPeriodic("A", 5*time.Millisecond, RunnerFunc(func(ctx context.Context) error {
		if runs.Add(1) == 3 {
			return errors.New("device lost")
		}
		return nil
	}))
	require.NoError(t, err)

	startTask(t, tk)
	waitState(t, tk, component.Error)

	assert.True(t, core.IsErrorCode(tk.LastError(), core.ErrExecutionFailed))
	assert.Contains(t, tk.LastError().Error(), "device lost")
	assert.EqualValues(t, 3, runs.Load())

	// Задача исключена из планирования
	time.Sleep(30 * time.Millisecond)
	assert.EqualValues(t, 3, runs.Load())
	require.NoError(t, tk.Kill(context.Background()))
	assert.Equal(t, component.Error, tk.State())
}

func TestTask_RunPanicMovesToError(t *testing.T) {
	tk, err := NewContinuous("A", RunnerFunc(func(ctx context.Context) error {
		panic("boom")
	}))
	require.NoError(t, err)

	// ACTIVE может быть пройдено до того, как ожидающий его увидит
	require.NoError(t, tk.Create(context.Background()))
	waitState(t, tk, component.Ready)
	require.NoError(t, tk.Start(context.Background()))
	waitState(t, tk, component.Error)
	assert.Contains(t, tk.LastError().Error(), "boom")
}

func TestTask_StartupFailure(t *testing.T) {
	h := &hooks{startErr: errors.New("no device")}
	tk, err := NewPeriodic("A", 5*time.Millisecond, h)
	require.NoError(t, err)

	require.NoError(t, tk.Create(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = tk.WaitForState(ctx, component.Ready)
	assert.True(t, core.IsErrorCode(err, core.ErrInvalidState))
	assert.Equal(t, component.Error, tk.State())
	assert.True(t, core.IsErrorCode(tk.LastError(), core.ErrStartupFailed))
}

func TestTask_MandatoryRequiredInterface(t *testing.T) {
	tk, _ := NewPeriodic("A", 5*time.Millisecond, nil)
	_, _ = tk.AddRequiredInterface("In")
	_, _ = tk.AddRequiredInterface("Opt", interfaces.Optional())

	require.NoError(t, tk.Create(context.Background()))
	waitState(t, tk, component.Error)
	assert.True(t, core.IsErrorCode(tk.LastError(), core.ErrNotConnected))
}

func TestTask_KillDuringInitializing(t *testing.T) {
	release := make(chan struct{})
	body := &blockingStartup{release: release}
	tk, _ := NewPeriodic("A", 5*time.Millisecond, body)

	require.NoError(t, tk.Create(context.Background()))
	assert.Equal(t, component.Initializing, tk.State())
	require.NoError(t, tk.Kill(context.Background()))
	close(release)

	waitState(t, tk, component.Finished)
	assert.Zero(t, tk.Stats().Cycles)
}

type blockingStartup struct{ release chan struct{} }

func (b *blockingStartup) Startup(ctx context.Context) error {
	<-b.release
	return nil
}

func (b *blockingStartup) Run(ctx context.Context) error { return nil }

func TestTask_SuspendAndResume(t *testing.T) {
	h := &hooks{}
	tk, _ := NewPeriodic("A", 5*time.Millisecond, h)
	startTask(t, tk)

	require.NoError(t, tk.Suspend(context.Background()))
	waitState(t, tk, component.Ready)
	runs := h.runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, runs, h.runs.Load())

	require.NoError(t, tk.Start(context.Background()))
	waitState(t, tk, component.Active)
	require.Eventually(t, func() bool { return h.runs.Load() > runs }, time.Second, time.Millisecond)

	killTask(t, tk)
}

func TestTask_FromSignal(t *testing.T) {
	var runs atomic.Int32
	a, _ := NewFromSignal("A", RunnerFunc(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))
	out, _ := a.AddProvidedInterface("Out")
	var got atomic.Int32
	_, _ = interfaces.AddCommandWrite(out, "Push", func(ctx context.Context, v int32) error {
		got.Add(v)
		return nil
	})

	b := component.New("B")
	in, _ := b.AddRequiredInterface("In")
	push, _ := interfaces.AddFunctionWrite[int32](in, "Push")
	_, err := interfaces.Bind(in, out, "")
	require.NoError(t, err)

	startTask(t, a)
	// Первый цикл выполняется сразу после Start, дальше только по сигналу
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, runs.Load())

	assert.Equal(t, command.Queued, push.Execute(context.Background(), 5))
	require.Eventually(t, func() bool { return got.Load() == 5 }, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, runs.Load(), int32(2))

	killTask(t, a)
}

func TestTask_ContinuousStopping(t *testing.T) {
	var tk *Task
	var runs atomic.Int64
	tk, err := NewContinuous("A", RunnerFunc(func(ctx context.Context) error {
		runs.Add(1)
		select {
		case <-tk.Stopping():
		case <-time.After(time.Millisecond):
		}
		return nil
	}))
	require.NoError(t, err)

	startTask(t, tk)
	require.Eventually(t, func() bool { return runs.Load() > 5 }, time.Second, time.Millisecond)
	killTask(t, tk)
	assert.Equal(t, "continuous", tk.Policy().String())
}

func TestTask_StateTableInterface(t *testing.T) {
	var tk *Task
	tk, err := NewPeriodic("A", 5*time.Millisecond, nil)
	require.NoError(t, err)
	position, err := statetable.AddColumn(tk.StateTable(), "Position", 0.0)
	require.NoError(t, err)
	tk.body = RunnerFunc(func(ctx context.Context) error {
		position.Set(position.Get() + 1)
		return nil
	})

	startTask(t, tk)
	require.Eventually(t, func() bool { return tk.StateTable().Latest().Tick >= 5 }, time.Second, time.Millisecond)
	killTask(t, tk)

	p, ok := tk.ProvidedInterface(StateTableInterface)
	require.True(t, ok)

	getIndex, res := p.GetCommand(CommandGetIndex)
	require.Equal(t, command.Success, res)
	out, res := getIndex.Execute(context.Background(), nil)
	require.Equal(t, command.Success, res)
	idx := out.(statetable.Index)
	assert.Equal(t, tk.Stats().Cycles, idx.Tick)

	getRows, _ := p.GetCommand(CommandGetRows)
	out, res = getRows.Execute(context.Background(), RowQuery{From: 1, Max: 3})
	require.Equal(t, command.Success, res)
	rows := out.([]statetable.Row)
	require.Len(t, rows, 3)
	assert.Equal(t, uint64(1), rows[0].Tick)
	assert.Equal(t, 1.0, rows[0].Values["Position"])

	getStats, _ := p.GetCommand(CommandGetPeriodStatistics)
	out, res = getStats.Execute(context.Background(), nil)
	require.Equal(t, command.Success, res)
	assert.Equal(t, tk.Stats().Cycles, out.(Stats).Cycles)
}

func TestTask_SetBodyAfterCreate(t *testing.T) {
	tk, _ := NewPeriodic("A", 5*time.Millisecond, nil)
	require.NoError(t, tk.SetBody(&hooks{}))
	require.NoError(t, tk.Create(context.Background()))
	err := tk.SetBody(&hooks{})
	assert.True(t, core.IsErrorCode(err, core.ErrInvalidState))
	waitState(t, tk, component.Ready)
	killTask(t, tk)
}
