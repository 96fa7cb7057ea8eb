package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/akriventsev/taskflow/framework/component"
	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/interfaces"
	"github.com/akriventsev/taskflow/framework/observability"
)

// Outcome результат массовой операции для одного компонента
type Outcome struct {
	Component string          `json:"component"`
	State     component.State `json:"state"`
	Err       error           `json:"-"`
	Error     string          `json:"error,omitempty"`
}

// Report результаты массовой операции по всем компонентам в порядке регистрации
type Report struct {
	Action   string    `json:"action"`
	Outcomes []Outcome `json:"outcomes"`
}

// OK сообщает, что операция удалась для всех компонентов
func (r Report) OK() bool {
	return len(r.Failed()) == 0
}

// Failed возвращает неудачные результаты
func (r Report) Failed() []Outcome {
	failed := make([]Outcome, 0)
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Err объединяет ошибки всех компонентов; nil при полном успехе
func (r Report) Err() error {
	var errs []error
	for _, o := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", o.Component, o.Err))
	}
	return errors.Join(errs...)
}

func (r *Report) add(c component.Component, err error) {
	o := Outcome{Component: c.Name(), State: c.State(), Err: err}
	if err != nil {
		o.Error = err.Error()
	}
	r.Outcomes = append(r.Outcomes, o)
}

// step действие над одним компонентом в массовой операции
type step func(ctx context.Context, c component.Component) error

func (m *Manager) bulk(ctx context.Context, action string, fn step) Report {
	report := Report{Action: action}
	_ = observability.TraceLifecycle(ctx, m.opts.tracer, m.opts.process, action, func(ctx context.Context) error {
		for _, c := range m.snapshot() {
			err := fn(ctx, c)
			if err != nil {
				m.opts.logger.Warn(action+" failed", "component", c.Name(), "state", c.State(), "err", err)
			}
			report.add(c, err)
		}
		return report.Err()
	})
	m.opts.logger.Info(action+" done", "components", len(report.Outcomes), "failed", len(report.Failed()))
	return report
}

// CreateAll вызывает Create для каждого компонента в CONSTRUCTED.
// Компоненты в ERROR дают свою последнюю ошибку, остальные пропускаются.
func (m *Manager) CreateAll(ctx context.Context) Report {
	return m.bulk(ctx, "create", func(ctx context.Context, c component.Component) error {
		switch c.State() {
		case component.Constructed:
			return c.Create(ctx)
		case component.Error:
			return lastError(c)
		default:
			return nil
		}
	})
}

// StartAll вызывает Start для каждого созданного компонента.
// Уже активные компоненты пропускаются.
func (m *Manager) StartAll(ctx context.Context) Report {
	return m.bulk(ctx, "start", func(ctx context.Context, c component.Component) error {
		switch s := c.State(); s {
		case component.Initializing, component.Ready:
			return c.Start(ctx)
		case component.Active:
			return nil
		case component.Error:
			return lastError(c)
		default:
			return core.Errorf(core.ErrInvalidState, "%s is %s", c.Name(), s)
		}
	})
}

// KillAll останавливает все компоненты
func (m *Manager) KillAll(ctx context.Context) Report {
	return m.bulk(ctx, "kill", func(ctx context.Context, c component.Component) error {
		switch c.State() {
		case component.Constructed, component.Finished:
			return nil
		case component.Error:
			return lastError(c)
		default:
			return c.Kill(ctx)
		}
	})
}

// CreateAllAndWait вызывает CreateAll и ждет READY от каждого компонента
func (m *Manager) CreateAllAndWait(ctx context.Context, timeout time.Duration) Report {
	report := m.CreateAll(ctx)
	return m.await(ctx, report, component.Ready, timeout, nil)
}

// StartAllAndWait вызывает StartAll и ждет ACTIVE от каждого компонента
func (m *Manager) StartAllAndWait(ctx context.Context, timeout time.Duration) Report {
	report := m.StartAll(ctx)
	return m.await(ctx, report, component.Active, timeout, nil)
}

// KillAllAndWait вызывает KillAll и ждет FINISHED от каждого запускавшегося компонента
func (m *Manager) KillAllAndWait(ctx context.Context, timeout time.Duration) Report {
	report := m.KillAll(ctx)
	return m.await(ctx, report, component.Finished, timeout, func(c component.Component) bool {
		return c.State() == component.Constructed
	})
}

// await ждет target от компонентов, для которых операция не вернула ошибку
func (m *Manager) await(ctx context.Context, report Report, target component.State, timeout time.Duration, skip func(component.Component) bool) Report {
	if timeout <= 0 {
		timeout = m.opts.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for i, o := range report.Outcomes {
		if o.Err != nil {
			continue
		}
		c, ok := m.GetComponent(o.Component)
		if !ok || (skip != nil && skip(c)) {
			continue
		}
		err := waitReached(ctx, c, target)
		if err != nil {
			m.opts.logger.Warn("wait failed", "component", c.Name(), "target", target, "state", c.State(), "err", err)
		}
		report.Outcomes[i] = Outcome{Component: c.Name(), State: c.State(), Err: err}
		if err != nil {
			report.Outcomes[i].Error = err.Error()
		}
	}
	return report
}

// waitReached ждет target; для READY состояние ACTIVE тоже считается достигнутым
func waitReached(ctx context.Context, c component.Component, target component.State) error {
	if reached(c.State(), target) {
		return nil
	}
	if target != component.Ready {
		return c.WaitForState(ctx, target)
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	results := make(chan error, 2)
	for _, s := range []component.State{component.Ready, component.Active} {
		go func(s component.State) { results <- c.WaitForState(waitCtx, s) }(s)
	}
	return <-results
}

func reached(state, target component.State) bool {
	if state == target {
		return true
	}
	return target == component.Ready && state == component.Active
}

func lastError(c component.Component) error {
	if err := c.LastError(); err != nil {
		return err
	}
	return core.Errorf(core.ErrInvalidState, "%s is ERROR", c.Name())
}

// Cleanup разрывает все соединения и останавливает доставку событий.
// Допустим, только когда ни один компонент не работает; компоненты остаются зарегистрированными.
func (m *Manager) Cleanup(ctx context.Context) error {
	for _, c := range m.snapshot() {
		if s := c.State(); s != component.Constructed && !s.IsTerminal() {
			return core.Errorf(core.ErrInvalidState, "component %s is %s", c.Name(), s)
		}
	}

	m.mu.Lock()
	bindings := make([]*binding, 0, len(m.connections))
	for id, b := range m.connections {
		bindings = append(bindings, b)
		delete(m.connections, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, b := range bindings {
		if _, err := interfaces.Unbind(b.required); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.conn, err))
		}
	}

	if m.publisher != nil {
		if err := m.publisher.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	m.opts.logger.Info("cleanup done", "connections", len(bindings))
	return errors.Join(errs...)
}
