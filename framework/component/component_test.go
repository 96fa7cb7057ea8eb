package component

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/interfaces"
)

func TestLifecycle_Table(t *testing.T) {
	ctx := context.Background()
	l := NewLifecycle("A")
	assert.Equal(t, Constructed, l.State())

	// Нельзя пропустить предшественника
	assert.True(t, core.IsErrorCode(l.Fire(ctx, EventStart), core.ErrInvalidState))
	assert.True(t, core.IsErrorCode(l.Fire(ctx, EventFinished), core.ErrInvalidState))

	for _, step := range []struct {
		event string
		want  State
	}{
		{EventCreate, Initializing},
		{EventInitialized, Ready},
		{EventStart, Active},
		{EventSuspend, Ready},
		{EventStart, Active},
		{EventKill, Finishing},
		{EventFinished, Finished},
	} {
		require.NoError(t, l.Fire(ctx, step.event))
		assert.Equal(t, step.want, l.State())
	}

	// Терминальное состояние
	assert.Error(t, l.Fire(ctx, EventCreate))
	assert.Error(t, l.Fail(ctx, errors.New("late")))
	assert.Len(t, l.History(), 7)
}

func TestLifecycle_FailFromAnyNonTerminal(t *testing.T) {
	ctx := context.Background()
	prefixes := [][]string{
		{},
		{EventCreate},
		{EventCreate, EventInitialized},
		{EventCreate, EventInitialized, EventStart},
		{EventCreate, EventInitialized, EventStart, EventKill},
	}
	for _, prefix := range prefixes {
		l := NewLifecycle("A")
		for _, e := range prefix {
			require.NoError(t, l.Fire(ctx, e))
		}
		cause := errors.New("device lost")
		require.NoError(t, l.Fail(ctx, cause))
		assert.Equal(t, Error, l.State())
		assert.Equal(t, cause, l.LastError())
	}
}

func TestLifecycle_ListenersAndWait(t *testing.T) {
	ctx := context.Background()
	l := NewLifecycle("A")

	var mu sync.Mutex
	var seen []Transition
	l.Subscribe(func(tr Transition) {
		mu.Lock()
		seen = append(seen, tr)
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() {
		waitCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		done <- l.Wait(waitCtx, Ready)
	}()

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, l.Fire(ctx, EventCreate))
	require.NoError(t, l.Fire(ctx, EventInitialized))
	require.NoError(t, <-done)

	mu.Lock()
	require.Len(t, seen, 2)
	assert.Equal(t, Constructed, seen[0].From)
	assert.Equal(t, Ready, seen[1].To)
	mu.Unlock()

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err := l.Wait(short, Active)
	assert.True(t, core.IsErrorCode(err, core.ErrTimeout))

	require.NoError(t, l.Fail(ctx, errors.New("boom")))
	err = l.Wait(ctx, Active)
	assert.True(t, core.IsErrorCode(err, core.ErrInvalidState))
}

func TestBase_PassiveLifecycle(t *testing.T) {
	ctx := context.Background()
	var calls []string
	c := New("Console",
		WithStartup(func(ctx context.Context) error {
			calls = append(calls, "startup")
			return nil
		}),
		WithCleanup(func(ctx context.Context) error {
			calls = append(calls, "cleanup")
			return nil
		}))

	assert.Equal(t, core.ComponentTypeComponent, c.Type())
	assert.Equal(t, "", c.Executor())

	require.NoError(t, c.Create(ctx))
	assert.Equal(t, Ready, c.State())
	require.NoError(t, c.Start(ctx))
	assert.Equal(t, Active, c.State())
	require.NoError(t, c.Kill(ctx))
	assert.Equal(t, Finished, c.State())
	assert.Equal(t, []string{"startup", "cleanup"}, calls)

	// Повторный Kill ничего не делает
	require.NoError(t, c.Kill(ctx))
}

func TestBase_KillConstructedIsNoop(t *testing.T) {
	c := New("Idle")
	require.NoError(t, c.Kill(context.Background()))
	assert.Equal(t, Constructed, c.State())
}

func TestBase_CreateRequiresMandatoryConnections(t *testing.T) {
	ctx := context.Background()
	c := New("B")
	_, err := c.AddRequiredInterface("In")
	require.NoError(t, err)
	_, err = c.AddRequiredInterface("Debug", interfaces.Optional())
	require.NoError(t, err)

	err = c.Create(ctx)
	require.Error(t, err)
	assert.True(t, core.IsErrorCode(err, core.ErrNotConnected))
	assert.Contains(t, err.Error(), "In")
	assert.NotContains(t, err.Error(), "Debug")
	assert.Equal(t, Error, c.State())
	assert.NotNil(t, c.LastError())
}

func TestBase_StartupPanic(t *testing.T) {
	c := New("Faulty", WithStartup(func(ctx context.Context) error {
		panic("no device")
	}))
	err := c.Create(context.Background())
	assert.True(t, core.IsErrorCode(err, core.ErrStartupFailed))
	assert.Equal(t, Error, c.State())
}

func TestBase_Interfaces(t *testing.T) {
	c := New("A")
	_, err := c.AddProvidedInterface("Out")
	require.NoError(t, err)
	_, err = c.AddProvidedInterface("Out")
	assert.True(t, core.IsErrorCode(err, core.ErrAlreadyExists))
	_, err = c.AddProvidedInterface("Control")
	require.NoError(t, err)
	_, err = c.AddRequiredInterface("In")
	require.NoError(t, err)

	assert.Equal(t, []string{"Control", "Out"}, c.ProvidedInterfaceNames())
	assert.Equal(t, []string{"In"}, c.RequiredInterfaceNames())

	p, ok := c.ProvidedInterface("Out")
	require.True(t, ok)
	assert.Equal(t, "A.Out", p.QualifiedName())
	assert.Equal(t, core.Direct, p.Queueing())

	_, ok = c.RequiredInterface("Missing")
	assert.False(t, ok)
}

func TestBase_ExecutorMakesInterfacesQueued(t *testing.T) {
	signal := make(chan struct{}, 1)
	c := New("T", WithType(core.ComponentTypeTask), WithExecutor("T", signal))
	p, err := c.AddProvidedInterface("Out")
	require.NoError(t, err)
	assert.Equal(t, core.Queued, p.Queueing())
}

func TestDescribe(t *testing.T) {
	c := New("A")
	out, _ := c.AddProvidedInterface("Out")
	_, err := interfaces.AddCommandVoid(out, "Reset", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	in, _ := c.AddRequiredInterface("In", interfaces.Optional())
	_, err = interfaces.AddFunctionRead[int](in, "GetCount")
	require.NoError(t, err)

	d := Describe(c)
	assert.Equal(t, "A", d.Name)
	assert.Equal(t, Constructed, d.State)
	require.Len(t, d.Provided, 1)
	assert.Equal(t, "Reset", d.Provided[0].Commands[0].Name)
	require.Len(t, d.Required, 1)
	assert.Equal(t, "GetCount", d.Required[0].Functions[0].Name)

	pd, ok := d.ProvidedInterface("Out")
	assert.True(t, ok)
	assert.Equal(t, "Out", pd.Name)
}
