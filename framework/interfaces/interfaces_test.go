package interfaces

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/taskflow/framework/command"
	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/statetable"
)

type testOwner struct {
	name     string
	executor string
}

func (o testOwner) Name() string     { return o.name }
func (o testOwner) Executor() string { return o.executor }

func passive(name string) testOwner { return testOwner{name: name} }
func active(name string) testOwner  { return testOwner{name: name, executor: name} }

func valueInterface(t *testing.T, owner Owner, value *atomic.Value) *Provided {
	t.Helper()
	value.Store(0.0)
	out := NewProvided(owner, "Out")
	_, err := AddCommandWrite(out, "SetValue", func(ctx context.Context, v float64) error {
		value.Store(v)
		return nil
	})
	require.NoError(t, err)
	_, err = AddCommandRead(out, "GetValue", func(ctx context.Context) (float64, error) {
		return value.Load().(float64), nil
	})
	require.NoError(t, err)
	return out
}

func TestProvided_AddCommandDuplicate(t *testing.T) {
	var value atomic.Value
	out := valueInterface(t, passive("A"), &value)

	_, err := AddCommandVoid(out, "SetValue", func(ctx context.Context) error { return nil })
	assert.True(t, core.IsErrorCode(err, core.ErrAlreadyExists))

	_, res := out.GetCommand("Missing")
	assert.Equal(t, command.NotFound, res)
}

func TestProvided_Enumeration(t *testing.T) {
	var value atomic.Value
	out := valueInterface(t, passive("A"), &value)
	_, _ = AddCommandVoid(out, "Reset", func(ctx context.Context) error { return nil })
	_, _ = AddCommandVoid(out, "Home", func(ctx context.Context) error { return nil })

	assert.Equal(t, []string{"GetValue", "Home", "Reset", "SetValue"}, out.CommandNames())
	assert.Equal(t, []string{"Home", "Reset"}, out.NamesOfCommands(command.Void))
	assert.Equal(t, []string{"GetValue"}, out.NamesOfCommands(command.Read))

	byKind := out.CommandsByKind()
	assert.Len(t, byKind, 3)
	// Повторный вызов дает тот же результат
	assert.Equal(t, byKind, out.CommandsByKind())
}

func TestRequired_UnboundFunction(t *testing.T) {
	in := NewRequired(passive("B"), "In")
	set, err := AddFunctionWrite[float64](in, "SetValue")
	require.NoError(t, err)

	assert.Equal(t, command.FunctionUnavailable, set.Execute(context.Background(), 1.0))
	assert.False(t, in.IsConnected())

	_, err = in.AddFunction("SetValue", command.Write, command.PrototypeOf[float64](), command.None())
	assert.True(t, core.IsErrorCode(err, core.ErrAlreadyExists))
}

func TestBind_DirectCall(t *testing.T) {
	var value atomic.Value
	out := valueInterface(t, passive("A"), &value)

	in := NewRequired(passive("B"), "In")
	set, _ := AddFunctionWrite[float64](in, "SetValue")
	get, _ := AddFunctionRead[float64](in, "GetValue")

	conn, err := Bind(in, out, "")
	require.NoError(t, err)
	assert.False(t, conn.Queued)
	assert.NotEmpty(t, conn.ID)
	assert.Equal(t, "B.In -> A.Out", conn.String())

	assert.Equal(t, command.Success, set.Execute(context.Background(), 3.5))
	v, res := get.Execute(context.Background())
	assert.Equal(t, command.Success, res)
	assert.Equal(t, 3.5, v)

	require.Len(t, out.Subscribers(), 1)
	assert.Equal(t, conn.ID, out.Subscribers()[0].ID)
}

func TestBind_Atomicity(t *testing.T) {
	var value atomic.Value
	out := valueInterface(t, passive("A"), &value)

	in := NewRequired(passive("B"), "In")
	set, _ := AddFunctionWrite[float64](in, "SetValue")
	// Правильное имя, неверный тип
	get, _ := AddFunctionRead[int](in, "GetValue")
	missing, _ := AddFunctionVoid(in, "Stop")

	_, err := Bind(in, out, "")
	require.Error(t, err)
	assert.True(t, core.IsErrorCode(err, core.ErrInterfaceIncompatible))
	assert.Contains(t, err.Error(), "GetValue")
	assert.Contains(t, err.Error(), "Stop")

	// Ни одна функция не связана
	assert.False(t, set.IsBound())
	assert.False(t, get.IsBound())
	assert.False(t, missing.IsBound())
	assert.False(t, in.IsConnected())
	assert.Empty(t, out.Subscribers())
}

func TestBind_KindMismatchLeavesInterfacesUntouched(t *testing.T) {
	prov := NewProvided(passive("A"), "Out")
	_, err := AddCommandWrite(prov, "Compute", func(ctx context.Context, v float64) error { return nil })
	require.NoError(t, err)

	req := NewRequired(passive("B"), "In")
	_, err = AddFunctionQualifiedRead[float64, float64](req, "Compute")
	require.NoError(t, err)

	before := prov.Describe()
	_, err = Bind(req, prov, "")
	assert.True(t, core.IsErrorCode(err, core.ErrInterfaceIncompatible))
	assert.Equal(t, before, prov.Describe())
	assert.Nil(t, req.Connection())
	assert.Equal(t, []string{"Compute"}, req.NamesOfFunctions(command.QualifiedRead))
}

func TestBind_OnlyOneConnectionPerRequired(t *testing.T) {
	var v1, v2 atomic.Value
	out1 := valueInterface(t, passive("A"), &v1)
	out2 := valueInterface(t, passive("C"), &v2)

	in := NewRequired(passive("B"), "In")
	_, _ = AddFunctionWrite[float64](in, "SetValue")

	_, err := Bind(in, out1, "")
	require.NoError(t, err)
	_, err = Bind(in, out2, "")
	assert.True(t, core.IsErrorCode(err, core.ErrAlreadyConnected))
}

func TestBind_FanOut(t *testing.T) {
	var value atomic.Value
	out := valueInterface(t, passive("A"), &value)

	for _, name := range []string{"B", "C", "D"} {
		in := NewRequired(passive(name), "In")
		_, _ = AddFunctionRead[float64](in, "GetValue")
		_, err := Bind(in, out, "")
		require.NoError(t, err)
	}
	assert.Len(t, out.Subscribers(), 3)
}

func TestBind_QueuedCalls(t *testing.T) {
	var value atomic.Value
	out := valueInterface(t, active("A"), &value)
	_, err := AddCommandVoidReturn(out, "Snapshot", func(ctx context.Context) (float64, error) {
		return value.Load().(float64), nil
	})
	require.NoError(t, err)

	in := NewRequired(active("B"), "In")
	set, _ := AddFunctionWrite[float64](in, "SetValue")
	get, _ := AddFunctionRead[float64](in, "GetValue")
	snap, _ := AddFunctionVoidReturn[float64](in, "Snapshot")

	conn, err := Bind(in, out, "")
	require.NoError(t, err)
	assert.True(t, conn.Queued)
	assert.True(t, set.IsQueued())
	assert.False(t, get.IsQueued(), "read commands run in the caller thread")

	// Write возвращается сразу, значение меняется только в потоке владельца
	assert.Equal(t, command.Queued, set.Execute(context.Background(), 2.5))
	v, _ := get.Execute(context.Background())
	assert.Equal(t, 0.0, v)
	assert.Equal(t, 1, out.PendingInvocations())

	assert.Equal(t, 1, out.ProcessMailboxes())
	v, _ = get.Execute(context.Background())
	assert.Equal(t, 2.5, v)

	// Блокирующий вызов ждет обработки очереди владельцем
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				out.ProcessMailboxes()
				time.Sleep(time.Millisecond)
			}
		}
	}()
	defer close(stop)

	s, res := snap.Execute(context.Background(), WithTimeout(time.Second))
	assert.Equal(t, command.Success, res)
	assert.Equal(t, 2.5, s)

	assert.Equal(t, command.Success, set.Execute(context.Background(), 4.0, Blocking()))
	v, _ = get.Execute(context.Background())
	assert.Equal(t, 4.0, v)
}

func TestBind_SameExecutorIsDirect(t *testing.T) {
	var value atomic.Value
	owner := active("A")
	out := valueInterface(t, owner, &value)

	in := NewRequired(owner, "Self")
	set, _ := AddFunctionWrite[float64](in, "SetValue")

	conn, err := Bind(in, out, "")
	require.NoError(t, err)
	assert.False(t, conn.Queued)
	assert.Equal(t, command.Success, set.Execute(context.Background(), 1.25))
	assert.Equal(t, 1.25, value.Load())
}

func TestFunction_BlockingTimeout(t *testing.T) {
	out := NewProvided(active("A"), "Out")
	_, _ = AddCommandVoid(out, "Home", func(ctx context.Context) error { return nil })

	in := NewRequired(active("B"), "In", WithCallTimeout(20*time.Millisecond))
	home, _ := AddFunctionVoid(in, "Home")
	_, err := Bind(in, out, "")
	require.NoError(t, err)

	// Никто не обрабатывает очередь
	assert.Equal(t, command.Timeout, home.Execute(context.Background(), Blocking()))
}

func TestFunction_CallAsync(t *testing.T) {
	out := NewProvided(active("A"), "Out")
	_, _ = AddCommandWriteReturn(out, "Double", func(ctx context.Context, v int) (int, error) { return 2 * v, nil })

	in := NewRequired(active("B"), "In")
	double, _ := AddFunctionWriteReturn[int, int](in, "Double")
	_, err := Bind(in, out, "")
	require.NoError(t, err)

	future := double.CallAsync(context.Background(), 21)
	_, _, done := future.Poll()
	assert.False(t, done)

	out.ProcessMailboxes()
	result, res, done := future.Poll()
	assert.True(t, done)
	assert.Equal(t, command.Success, res)
	assert.Equal(t, 42, result)
}

func TestFunction_ArgumentMismatch(t *testing.T) {
	var value atomic.Value
	out := valueInterface(t, passive("A"), &value)
	in := NewRequired(passive("B"), "In")
	set, _ := AddFunctionWrite[float64](in, "SetValue")
	_, err := Bind(in, out, "")
	require.NoError(t, err)

	_, res := set.Call(context.Background(), "3.5")
	assert.Equal(t, command.ArgumentMismatch, res)
}

func TestFunction_DisabledCommand(t *testing.T) {
	calls := 0
	out := NewProvided(passive("A"), "Out")
	cmd, _ := AddCommandVoid(out, "Home", func(ctx context.Context) error {
		calls++
		return nil
	})
	in := NewRequired(passive("B"), "In")
	home, _ := AddFunctionVoid(in, "Home")
	_, err := Bind(in, out, "")
	require.NoError(t, err)

	cmd.Disable()
	for i := 0; i < 3; i++ {
		assert.Equal(t, command.Disabled, home.Execute(context.Background()))
	}
	assert.Equal(t, 0, calls)

	cmd.Enable()
	assert.Equal(t, command.Success, home.Execute(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestFunction_DisabledCommandQueued(t *testing.T) {
	var calls atomic.Int32
	out := NewProvided(active("A"), "Out")
	cmd, _ := AddCommandVoid(out, "Home", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	in := NewRequired(active("B"), "In")
	home, _ := AddFunctionVoid(in, "Home")
	conn, err := Bind(in, out, "")
	require.NoError(t, err)
	require.True(t, conn.Queued)

	ctx := context.Background()
	cmd.Disable()
	for i := 0; i < 3; i++ {
		assert.Equal(t, command.Disabled, home.Execute(ctx))
		assert.Equal(t, command.Disabled, home.Execute(ctx, Blocking()))
		_, res := home.CallAsync(ctx, nil).Wait(ctx, time.Second)
		assert.Equal(t, command.Disabled, res)
	}
	assert.Equal(t, 0, out.PendingInvocations())
	assert.Equal(t, 0, out.ProcessMailboxes())
	assert.EqualValues(t, 0, calls.Load())

	cmd.Enable()
	assert.Equal(t, command.Queued, home.Execute(ctx))
	assert.Equal(t, 1, out.ProcessMailboxes())
	assert.EqualValues(t, 1, calls.Load())
}

func TestFunction_DisabledWhileQueued(t *testing.T) {
	var calls atomic.Int32
	out := NewProvided(active("A"), "Out")
	cmd, _ := AddCommandVoid(out, "Home", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	in := NewRequired(active("B"), "In")
	home, _ := AddFunctionVoid(in, "Home")
	_, err := Bind(in, out, "")
	require.NoError(t, err)

	future := home.CallAsync(context.Background(), nil)
	cmd.Disable()
	out.ProcessMailboxes()

	_, res := future.Wait(context.Background(), time.Second)
	assert.Equal(t, command.Disabled, res)
	assert.EqualValues(t, 0, calls.Load())
}

func TestUnbind(t *testing.T) {
	out := NewProvided(active("A"), "Out")
	_, _ = AddCommandVoid(out, "Home", func(ctx context.Context) error { return nil })

	in := NewRequired(active("B"), "In")
	home, _ := AddFunctionVoid(in, "Home")
	_, err := Bind(in, out, "conn-1")
	require.NoError(t, err)

	future := home.CallAsync(context.Background(), nil)

	conn, err := Unbind(in)
	require.NoError(t, err)
	assert.Equal(t, "conn-1", conn.ID)

	_, res := future.Wait(context.Background(), time.Second)
	assert.Equal(t, command.FunctionUnavailable, res)
	assert.Equal(t, command.FunctionUnavailable, home.Execute(context.Background()))
	assert.Empty(t, out.Subscribers())

	_, err = Unbind(in)
	assert.True(t, core.IsErrorCode(err, core.ErrNotConnected))

	// Повторное соединение возможно
	_, err = Bind(in, out, "")
	assert.NoError(t, err)
}

func TestEvents_DirectAndQueued(t *testing.T) {
	out := NewProvided(active("A"), "Out")
	moved, err := AddEventWrite[float64](out, "Moved")
	require.NoError(t, err)
	stopped, err := out.AddEventVoid("Stopped")
	require.NoError(t, err)

	in := NewRequired(active("B"), "In")
	var position atomic.Value
	position.Store(0.0)
	var stops atomic.Int32
	_, err = AddEventHandlerWrite(in, "Moved", func(ctx context.Context, v float64) error {
		position.Store(v)
		return nil
	}, true)
	require.NoError(t, err)
	_, err = in.AddEventHandlerVoid("Stopped", func(ctx context.Context) error {
		stops.Add(1)
		return nil
	}, false)
	require.NoError(t, err)
	// Обработчик без генератора - только предупреждение
	orphan, err := in.AddEventHandlerVoid("Collided", func(ctx context.Context) error { return nil }, false)
	require.NoError(t, err)

	_, err = Bind(in, out, "")
	require.NoError(t, err)
	assert.False(t, orphan.IsBound())
	assert.Equal(t, 1, moved.Subscribers())

	assert.Equal(t, command.Success, moved.Trigger(context.Background(), 1.5))
	assert.Equal(t, 0.0, position.Load(), "queued handler waits for the owner thread")
	assert.Equal(t, 1, in.ProcessEvents())
	assert.Equal(t, 1.5, position.Load())

	assert.Equal(t, command.Success, stopped.Trigger(context.Background(), nil))
	assert.Equal(t, int32(1), stops.Load())

	assert.Equal(t, command.ArgumentMismatch, moved.Trigger(context.Background(), "x"))
	assert.Equal(t, command.ArgumentMismatch, stopped.Trigger(context.Background(), 1))
}

func TestEvents_KindMismatch(t *testing.T) {
	out := NewProvided(passive("A"), "Out")
	_, _ = out.AddEventVoid("Moved")

	in := NewRequired(passive("B"), "In")
	_, _ = AddEventHandlerWrite(in, "Moved", func(ctx context.Context, v float64) error { return nil }, false)

	_, err := Bind(in, out, "")
	assert.True(t, core.IsErrorCode(err, core.ErrInterfaceIncompatible))
}

func TestAddCommandReadState(t *testing.T) {
	table := statetable.New("A", 8)
	column, err := statetable.AddColumn(table, "Position", 0.0)
	require.NoError(t, err)

	out := NewProvided(active("A"), "Out")
	cmd, err := AddCommandReadState(out, "GetPosition", column)
	require.NoError(t, err)
	assert.False(t, cmd.Queueable())

	in := NewRequired(active("B"), "In")
	get, _ := AddFunctionRead[float64](in, "GetPosition")
	_, err = Bind(in, out, "")
	require.NoError(t, err)

	column.Set(7.5)
	v, _ := get.Execute(context.Background())
	assert.Equal(t, 0.0, v)

	table.Advance(time.Now())
	v, res := get.Execute(context.Background())
	assert.Equal(t, command.Success, res)
	assert.Equal(t, 7.5, v)
}

func TestDescribe(t *testing.T) {
	var value atomic.Value
	out := valueInterface(t, active("A"), &value)
	_, _ = out.AddEventVoid("Changed")

	d := out.Describe()
	assert.Equal(t, "Out", d.Name)
	assert.Equal(t, "queued", d.Queueing)
	require.Len(t, d.Commands, 2)
	assert.Equal(t, "GetValue", d.Commands[0].Name)
	assert.Equal(t, command.Read, d.Commands[0].Kind)
	assert.Equal(t, "float64", d.Commands[0].Output.Tag)
	assert.Equal(t, uintptr(8), d.Commands[0].Output.Size)
	require.Len(t, d.Events, 1)

	assert.True(t, d.Commands[1].Input.Prototype().Compatible(command.PrototypeOf[float64]()))

	in := NewRequired(passive("B"), "In", Optional())
	_, _ = AddFunctionRead[float64](in, "GetValue")
	rd := in.Describe()
	assert.True(t, rd.Optional)
	assert.Nil(t, rd.Connection)
	assert.False(t, rd.Functions[0].Enabled)
}
