package testing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/taskflow/framework/command"
	"github.com/akriventsev/taskflow/framework/component"
	"github.com/akriventsev/taskflow/framework/interfaces"
	tftesting "github.com/akriventsev/taskflow/framework/testing"
)

func TestInMemoryTestEnvironment(t *testing.T) {
	env := tftesting.NewInMemoryTestEnvironment(t, "test")

	a := component.New("A")
	out, err := a.AddProvidedInterface("Out")
	require.NoError(t, err)
	_, err = interfaces.AddCommandRead(out, "GetValue", func(ctx context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)

	b := component.New("B")
	in, err := b.AddRequiredInterface("In")
	require.NoError(t, err)
	get, err := interfaces.AddFunctionRead[int](in, "GetValue")
	require.NoError(t, err)

	env.Add(a, b)
	env.Connect("B", "In", "A", "Out")
	env.Run()
	tftesting.WaitForState(t, b, component.Active)

	v, res := get.Execute(context.Background())
	assert.Equal(t, command.Success, res)
	assert.Equal(t, 7, v)

	require.Eventually(t, func() bool {
		states := env.Recorder.Transitions("A")
		return len(states) > 0 && states[len(states)-1] == component.Active.String()
	}, tftesting.DefaultWait, time.Millisecond)

	require.NoError(t, env.Shutdown(context.Background()))
	assert.Equal(t, component.Finished, a.State())
	assert.False(t, env.Bus.IsRunning())
}

func TestEventRecorder(t *testing.T) {
	r := tftesting.NewEventRecorder()
	assert.Empty(t, r.Events())
	r.Reset()
	assert.Nil(t, r.Transitions("A"))
}
