package manager

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/akriventsev/taskflow/framework/component"
	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/observability"
	"github.com/akriventsev/taskflow/framework/task"
)

// ComponentStatus краткое состояние компонента; для задач дополнено статистикой циклов
type ComponentStatus struct {
	Name      string             `json:"name"`
	Type      core.ComponentType `json:"type"`
	State     component.State    `json:"state"`
	LastError string             `json:"last_error,omitempty"`
	Policy    string             `json:"policy,omitempty"`
	Period    time.Duration      `json:"period,omitempty"`
	Stats     *task.Stats        `json:"stats,omitempty"`
}

// periodic компонент с собственным потоком и статистикой циклов
type periodic interface {
	Policy() task.Policy
	Period() time.Duration
	Stats() task.Stats
}

// StatusOf возвращает состояние одного компонента
func StatusOf(c component.Component) ComponentStatus {
	s := ComponentStatus{
		Name:  c.Name(),
		Type:  c.Type(),
		State: c.State(),
	}
	if err := c.LastError(); err != nil {
		s.LastError = err.Error()
	}
	if t, ok := c.(periodic); ok {
		stats := t.Stats()
		s.Policy = t.Policy().String()
		s.Period = t.Period()
		s.Stats = &stats
	}
	return s
}

// Status возвращает состояния всех компонентов
func (m *Manager) Status() map[string]ComponentStatus {
	out := make(map[string]ComponentStatus)
	for _, c := range m.snapshot() {
		out[c.Name()] = StatusOf(c)
	}
	return out
}

// Describe возвращает описание компонента с его интерфейсами
func (m *Manager) Describe(name string) (component.Description, error) {
	c, ok := m.GetComponent(name)
	if !ok {
		return component.Description{}, core.Errorf(core.ErrComponentNotFound, "component %s not found", name)
	}
	return component.Describe(c), nil
}

// DescribeAll возвращает описания всех компонентов, упорядоченные по имени
func (m *Manager) DescribeAll() []component.Description {
	components := m.snapshot()
	out := make([]component.Description, 0, len(components))
	for _, c := range components {
		out = append(out, component.Describe(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HealthCheck проверка, не проходящая при наличии компонентов в ERROR
func (m *Manager) HealthCheck() observability.HealthCheck {
	return observability.NewFuncHealthCheck("components", func(ctx context.Context) error {
		var failed []string
		for _, c := range m.snapshot() {
			if c.State() == component.Error {
				failed = append(failed, c.Name())
			}
		}
		if len(failed) > 0 {
			return core.Errorf(core.ErrExecutionFailed, "components in ERROR: %s", strings.Join(failed, ", "))
		}
		return nil
	})
}
