package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/akriventsev/taskflow/framework/component"
	"github.com/akriventsev/taskflow/framework/config"
	"github.com/akriventsev/taskflow/framework/core"
)

// Configure строит компоненты файла развертывания и устанавливает его соединения.
// Если хотя бы один компонент не построен, ничего не регистрируется.
// Ошибки соединений накапливаются; успешные соединения сохраняются.
func (m *Manager) Configure(ctx context.Context, d *config.Deployment) error {
	if m.opts.registry == nil {
		return core.NewError(core.ErrInvalidConfig, "configure requires a component registry")
	}

	env := m.opts.env
	env.Process = m.opts.process
	if env.Logger == nil {
		env.Logger = m.opts.logger
	}

	var buildErrs []error
	built := make([]component.Component, 0, len(d.Components))
	for _, spec := range d.Components {
		c, err := m.opts.registry.Build(ctx, spec, env)
		if err != nil {
			buildErrs = append(buildErrs, err)
			continue
		}
		built = append(built, c)
	}
	if err := errors.Join(buildErrs...); err != nil {
		return err
	}

	var errs []error
	for _, c := range built {
		if err := m.AddComponent(c); err != nil {
			errs = append(errs, err)
		}
	}

	for _, conn := range d.Connections {
		if _, err := m.ConnectRemote(ctx, conn.Requirer, conn.Required, conn.Process, conn.Provider, conn.Provided); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", conn, err))
		}
	}

	m.opts.logger.Info("deployment configured",
		"process", m.opts.process, "components", len(built), "connections", len(d.Connections), "errors", len(errs))
	return errors.Join(errs...)
}
