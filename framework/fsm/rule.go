package fsm

import (
	"context"
	"time"
)

// Event событие, запускающее переход
type Event struct {
	Name string
	Data interface{}
	Time time.Time
}

// Guard разрешает или запрещает переход; ошибка отменяет его
type Guard func(ctx context.Context, from string, event Event) error

// Action выполняется внутри перехода до смены состояния.
// Ошибка действия оставляет автомат в исходном состоянии.
type Action func(ctx context.Context, event Event) error

// Observer вызывается после успешного перехода вне блокировки автомата
type Observer func(ctx context.Context, step Step)

// Step запись истории переходов
type Step struct {
	From      string
	To        string
	Event     string
	Timestamp time.Time
}

// Rule описание одного ребра таблицы переходов
type Rule struct {
	From    []string
	Event   string
	To      string
	Guard   Guard
	Actions []Action
}

// On начинает правило для события из перечисленных состояний
func On(event string, from ...string) Rule {
	return Rule{Event: event, From: from}
}

// Goto задает целевое состояние
func (r Rule) Goto(to string) Rule {
	r.To = to
	return r
}

// When добавляет охранника
func (r Rule) When(g Guard) Rule {
	r.Guard = g
	return r
}

// Do добавляет действия
func (r Rule) Do(actions ...Action) Rule {
	r.Actions = append(append([]Action(nil), r.Actions...), actions...)
	return r
}
