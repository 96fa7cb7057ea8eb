// Package config описывает файл развертывания процесса: компоненты, соединения между
// ними и окружение (логирование, метрики, трассировка, шина, HTTP, каталог процессов).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/akriventsev/taskflow/framework/adapters/messagebus"
	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/logging"
	"github.com/akriventsev/taskflow/framework/metrics"
	"github.com/akriventsev/taskflow/framework/observability"
)

// Deployment корневой документ файла развертывания
type Deployment struct {
	Process     string                      `yaml:"process"`
	Logging     logging.Config              `yaml:"logging"`
	Metrics     metrics.Config              `yaml:"metrics"`
	Tracing     observability.TracingConfig `yaml:"tracing"`
	Debug       observability.DebugConfig   `yaml:"debug"`
	Bus         messagebus.Config           `yaml:"bus"`
	Proxy       Proxy                       `yaml:"proxy"`
	HTTP        HTTP                        `yaml:"http"`
	Directory   Directory                   `yaml:"directory"`
	Timeout     time.Duration               `yaml:"timeout"`
	Components  []ComponentSpec             `yaml:"components"`
	Connections []ConnectionSpec            `yaml:"connections"`
}

// ComponentSpec описание компонента: тип из реестра фабрик и его параметры
type ComponentSpec struct {
	Name   string        `yaml:"name"`
	Type   string        `yaml:"type"`
	Period time.Duration `yaml:"period"`
	// Params сырые параметры, разбираемые фабрикой типа
	Params yaml.Node `yaml:"params"`
}

// DecodeParams разбирает параметры компонента в out
func (c ComponentSpec) DecodeParams(out interface{}) error {
	if c.Params.Kind == 0 {
		return nil
	}
	if err := c.Params.Decode(out); err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, fmt.Sprintf("component %s: invalid params", c.Name))
	}
	return nil
}

// ConnectionSpec соединение required-интерфейса с provided-интерфейсом.
// Непустой Process означает поставщика в другом процессе (через proxy).
type ConnectionSpec struct {
	Requirer string `yaml:"requirer"`
	Required string `yaml:"required"`
	Provider string `yaml:"provider"`
	Provided string `yaml:"provided"`
	Process  string `yaml:"process"`
}

// String возвращает запись соединения в виде requirer.required -> [process:]provider.provided
func (c ConnectionSpec) String() string {
	provider := c.Provider
	if c.Process != "" {
		provider = c.Process + ":" + provider
	}
	return fmt.Sprintf("%s.%s -> %s.%s", c.Requirer, c.Required, provider, c.Provided)
}

// Proxy настройки экспорта компонентов через шину
type Proxy struct {
	Enabled bool          `yaml:"enabled"`
	Prefix  string        `yaml:"prefix"`
	Codec   string        `yaml:"codec"` // json | protobuf
	Timeout time.Duration `yaml:"timeout"`
	// Exports имена экспортируемых компонентов (пусто = все)
	Exports []string `yaml:"exports"`
	// Events публиковать изменения состояний в шину
	Events bool `yaml:"events"`
}

// HTTP настройки REST/WebSocket интроспекции
type HTTP struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Mode    string `yaml:"mode"` // debug | release | test
}

// Directory настройки каталога процессов
type Directory struct {
	Type     string        `yaml:"type"` // memory | redis
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// Default возвращает конфигурацию процесса по умолчанию
func Default() *Deployment {
	return &Deployment{
		Process: "local",
		Logging: logging.DefaultConfig(),
		Metrics: metrics.DefaultConfig(),
		Tracing: observability.DefaultTracingConfig(),
		Debug:   observability.DefaultDebugConfig(),
		Bus:     messagebus.DefaultConfig(),
		Proxy: Proxy{
			Prefix:  "taskflow",
			Codec:   "json",
			Timeout: 5 * time.Second,
		},
		HTTP: HTTP{
			Addr: ":8080",
			Mode: "release",
		},
		Directory: Directory{
			Type:   "memory",
			Prefix: "taskflow:directory",
			TTL:    30 * time.Second,
		},
		Timeout: 10 * time.Second,
	}
}

// Load читает файл развертывания, подставляя переменные окружения
func Load(path string) (*Deployment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "failed to read deployment file")
	}
	return Parse(data)
}

// Parse разбирает YAML поверх значений по умолчанию и валидирует результат
func Parse(data []byte) (*Deployment, error) {
	d := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), d); err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "failed to parse deployment")
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate проверяет согласованность документа
func (d *Deployment) Validate() error {
	if d.Process == "" {
		return core.NewError(core.ErrInvalidConfig, "process name cannot be empty")
	}
	if err := d.Logging.Validate(); err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "logging")
	}
	if err := d.Metrics.Validate(); err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "metrics")
	}
	if err := d.Tracing.Validate(); err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "tracing")
	}
	if err := messagebus.ValidateConfig(d.Bus); err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "bus")
	}
	if d.Proxy.Codec != "json" && d.Proxy.Codec != "protobuf" {
		return core.Errorf(core.ErrInvalidConfig, "proxy: unknown codec %q", d.Proxy.Codec)
	}
	if d.Proxy.Timeout <= 0 {
		return core.NewError(core.ErrInvalidConfig, "proxy: timeout must be positive")
	}
	if d.Directory.Type != "memory" && d.Directory.Type != "redis" {
		return core.Errorf(core.ErrInvalidConfig, "directory: unknown type %q", d.Directory.Type)
	}
	if d.Timeout <= 0 {
		return core.NewError(core.ErrInvalidConfig, "timeout must be positive")
	}

	names := make(map[string]struct{}, len(d.Components))
	for i, c := range d.Components {
		if c.Name == "" {
			return core.Errorf(core.ErrInvalidConfig, "components[%d]: name cannot be empty", i)
		}
		if c.Type == "" {
			return core.Errorf(core.ErrInvalidConfig, "component %s: type cannot be empty", c.Name)
		}
		if c.Period < 0 {
			return core.Errorf(core.ErrInvalidConfig, "component %s: period cannot be negative", c.Name)
		}
		if _, dup := names[c.Name]; dup {
			return core.Errorf(core.ErrDuplicateName, "component %s declared twice", c.Name)
		}
		names[c.Name] = struct{}{}
	}

	for i, conn := range d.Connections {
		if conn.Requirer == "" || conn.Required == "" || conn.Provider == "" || conn.Provided == "" {
			return core.Errorf(core.ErrInvalidConfig, "connections[%d]: requirer, required, provider and provided are mandatory", i)
		}
		if _, ok := names[conn.Requirer]; !ok {
			return core.Errorf(core.ErrComponentNotFound, "connection %s: unknown requirer", conn)
		}
		if conn.Process == "" || conn.Process == d.Process {
			if _, ok := names[conn.Provider]; !ok {
				return core.Errorf(core.ErrComponentNotFound, "connection %s: unknown provider", conn)
			}
		} else if !d.Proxy.Enabled {
			return core.Errorf(core.ErrInvalidConfig, "connection %s: remote provider requires proxy.enabled", conn)
		}
	}
	return nil
}
