package manager

import (
	"context"
	"sort"
	"sync"

	"github.com/akriventsev/taskflow/framework/component"
	"github.com/akriventsev/taskflow/framework/config"
	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/interfaces"
	"github.com/akriventsev/taskflow/framework/task"
)

// Env окружение, передаваемое фабрикам компонентов
type Env struct {
	Logger   core.Logger
	Observer interfaces.Observer
	Recorder task.Recorder
	Process  string
}

// Factory строит компонент по описанию из файла развертывания
type Factory func(ctx context.Context, spec config.ComponentSpec, env Env) (component.Component, error)

// Registry реестр фабрик компонентов по типу
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry создает пустой реестр
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register регистрирует фабрику типа
func (r *Registry) Register(typ string, factory Factory) error {
	if typ == "" || factory == nil {
		return core.NewError(core.ErrInvalidConfig, "component type and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[typ]; exists {
		return core.Errorf(core.ErrAlreadyExists, "component type %s already registered", typ)
	}
	r.factories[typ] = factory
	return nil
}

// Get возвращает фабрику типа
func (r *Registry) Get(typ string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[typ]
	return f, ok
}

// Types возвращает отсортированные зарегистрированные типы
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for typ := range r.factories {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// Build строит компонент; имя результата должно совпадать с заявленным
func (r *Registry) Build(ctx context.Context, spec config.ComponentSpec, env Env) (component.Component, error) {
	factory, ok := r.Get(spec.Type)
	if !ok {
		return nil, core.Errorf(core.ErrInvalidConfig, "component %s: unknown type %q", spec.Name, spec.Type)
	}
	if env.Logger == nil {
		env.Logger = core.NopLogger{}
	}

	c, err := factory(ctx, spec, env)
	if err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "component "+spec.Name)
	}
	if c.Name() != spec.Name {
		return nil, core.Errorf(core.ErrInvalidConfig, "factory %s built %q instead of %q", spec.Type, c.Name(), spec.Name)
	}
	return c, nil
}
