package component

import (
	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/interfaces"
)

// Description снимок компонента для интроспекции и прокси
type Description struct {
	Name      string                           `json:"name"`
	Type      core.ComponentType               `json:"type"`
	State     State                            `json:"state"`
	LastError string                           `json:"last_error,omitempty"`
	Provided  []interfaces.ProvidedDescription `json:"provided"`
	Required  []interfaces.RequiredDescription `json:"required"`
}

// Describe строит описание любого компонента
func Describe(c Component) Description {
	d := Description{
		Name:     c.Name(),
		Type:     c.Type(),
		State:    c.State(),
		Provided: make([]interfaces.ProvidedDescription, 0),
		Required: make([]interfaces.RequiredDescription, 0),
	}
	if err := c.LastError(); err != nil {
		d.LastError = err.Error()
	}
	for _, name := range c.ProvidedInterfaceNames() {
		if p, ok := c.ProvidedInterface(name); ok {
			d.Provided = append(d.Provided, p.Describe())
		}
	}
	for _, name := range c.RequiredInterfaceNames() {
		if r, ok := c.RequiredInterface(name); ok {
			d.Required = append(d.Required, r.Describe())
		}
	}
	return d
}

// ProvidedInterface ищет описание предоставленного интерфейса
func (d Description) ProvidedInterface(name string) (interfaces.ProvidedDescription, bool) {
	for _, p := range d.Provided {
		if p.Name == name {
			return p, true
		}
	}
	return interfaces.ProvidedDescription{}, false
}
