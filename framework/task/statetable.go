package task

import (
	"context"

	"github.com/akriventsev/taskflow/framework/interfaces"
	"github.com/akriventsev/taskflow/framework/statetable"
)

const (
	// StateTableInterface имя предоставленного интерфейса таблицы состояний
	StateTableInterface = "StateTable"
	// CommandGetIndex индекс последней зафиксированной строки
	CommandGetIndex = "GetIndex"
	// CommandGetRows строки начиная с тика
	CommandGetRows = "GetRows"
	// CommandGetPeriodStatistics статистика циклов
	CommandGetPeriodStatistics = "GetPeriodStatistics"

	maxRowsPerQuery = 1024
)

// RowQuery запрос строк таблицы состояний
type RowQuery struct {
	From uint64 `json:"from"`
	Max  int    `json:"max"`
}

func (t *Task) addStateTableInterface() error {
	p, err := t.AddProvidedInterface(StateTableInterface)
	if err != nil {
		return err
	}
	if _, err := interfaces.AddCommandRead(p, CommandGetIndex, func(ctx context.Context) (statetable.Index, error) {
		return t.table.Latest(), nil
	}); err != nil {
		return err
	}
	if _, err := interfaces.AddCommandQualifiedRead(p, CommandGetRows, func(ctx context.Context, q RowQuery) ([]statetable.Row, error) {
		max := q.Max
		if max <= 0 || max > maxRowsPerQuery {
			max = maxRowsPerQuery
		}
		return t.table.Rows(q.From, max), nil
	}); err != nil {
		return err
	}
	_, err = interfaces.AddCommandRead(p, CommandGetPeriodStatistics, func(ctx context.Context) (Stats, error) {
		return t.Stats(), nil
	})
	return err
}
