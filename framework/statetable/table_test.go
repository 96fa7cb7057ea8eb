package statetable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/taskflow/framework/core"
)

func TestTable_AdvanceAndLatest(t *testing.T) {
	table := New("A", 4)
	value, err := AddColumn(table, "Value", 0.0)
	require.NoError(t, err)

	v, idx := value.Latest()
	assert.Equal(t, 0.0, v)
	assert.Equal(t, uint64(0), idx.Tick)

	value.Set(1.5)
	// Не зафиксировано - читатели видят прежнее значение
	v, _ = value.Latest()
	assert.Equal(t, 0.0, v)
	assert.Equal(t, 1.5, value.Get())

	now := time.Now()
	committed := table.Advance(now)
	assert.Equal(t, uint64(1), committed.Tick)

	v, idx = value.Latest()
	assert.Equal(t, 1.5, v)
	assert.Equal(t, committed, idx)
	assert.Equal(t, committed, table.Latest())
}

func TestTable_RingOverwritesOldest(t *testing.T) {
	table := New("A", 3)
	counter, err := AddColumn(table, "Counter", 0)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		counter.Set(i * 10)
		table.Advance(time.Now())
	}

	_, ok := counter.At(2)
	assert.False(t, ok, "tick 2 must be evicted")

	v, ok := counter.At(4)
	require.True(t, ok)
	assert.Equal(t, 40, v)

	rows := table.Rows(0, 0)
	require.Len(t, rows, 3)
	assert.Equal(t, uint64(3), rows[0].Tick)
	assert.Equal(t, 50, rows[2].Values["Counter"])

	rows = table.Rows(5, 0)
	require.Len(t, rows, 1)

	rows = table.Rows(0, 2)
	require.Len(t, rows, 2)
	assert.Equal(t, uint64(4), rows[1].Tick)
}

func TestTable_ColumnRules(t *testing.T) {
	table := New("A", 2)
	_, err := AddColumn(table, "X", "")
	require.NoError(t, err)

	_, err = AddColumn(table, "X", 0)
	assert.True(t, core.IsErrorCode(err, core.ErrAlreadyExists))

	table.Advance(time.Now())
	_, err = AddColumn(table, "Y", 0)
	assert.True(t, core.IsErrorCode(err, core.ErrInvalidState))

	assert.Equal(t, []string{"X"}, table.ColumnNames())
}
