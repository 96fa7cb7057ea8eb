package messagebus

import (
	"fmt"
	"sort"
	"sync"

	"github.com/akriventsev/taskflow/framework/transport"
)

// Типы шин
const (
	TypeInMemory = "inmemory"
	TypeNATS     = "nats"
	TypeRedis    = "redis"
	TypeKafka    = "kafka"
	TypeGRPC     = "grpc"
)

// Config выбор и настройки шины для секции bus файла развертывания
type Config struct {
	Type     string         `yaml:"type"`
	InMemory InMemoryConfig `yaml:"inmemory"`
	NATS     NATSConfig     `yaml:"nats"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	GRPC     GRPCConfig     `yaml:"grpc"`
}

// DefaultConfig возвращает конфигурацию шины по умолчанию (in-memory)
func DefaultConfig() Config {
	return Config{
		Type:     TypeInMemory,
		InMemory: DefaultInMemoryConfig(),
		NATS:     DefaultNATSConfig(),
		Redis:    DefaultRedisConfig(),
		Kafka:    DefaultKafkaConfig(),
		GRPC:     DefaultGRPCConfig(),
	}
}

// Selected возвращает настройки выбранного типа шины
func (c Config) Selected() interface{} {
	switch c.Type {
	case TypeNATS:
		return c.NATS
	case TypeRedis:
		return c.Redis
	case TypeKafka:
		return c.Kafka
	case TypeGRPC:
		return c.GRPC
	default:
		return c.InMemory
	}
}

// Creator создает адаптер из настроек
type Creator func(config interface{}, opts ...Option) (transport.RequestReplyBus, error)

// MessageBusFactory интерфейс фабрики для создания MessageBus адаптеров
type MessageBusFactory interface {
	Create(busType string, config interface{}, opts ...Option) (transport.RequestReplyBus, error)
	Register(name string, creator Creator) error
}

// DefaultMessageBusFactory реализация фабрики MessageBus
type DefaultMessageBusFactory struct {
	creators map[string]Creator
	mu       sync.RWMutex
}

// NewMessageBusFactory создает фабрику с встроенными адаптерами
func NewMessageBusFactory() *DefaultMessageBusFactory {
	factory := &DefaultMessageBusFactory{
		creators: make(map[string]Creator),
	}

	_ = factory.Register(TypeNATS, func(config interface{}, opts ...Option) (transport.RequestReplyBus, error) {
		switch cfg := config.(type) {
		case NATSConfig:
			return NewNATSAdapter(cfg, opts...)
		case string:
			c := DefaultNATSConfig()
			c.URL = cfg
			return NewNATSAdapter(c, opts...)
		default:
			return nil, fmt.Errorf("invalid NATS config type: %T", config)
		}
	})

	_ = factory.Register(TypeKafka, func(config interface{}, opts ...Option) (transport.RequestReplyBus, error) {
		cfg, ok := config.(KafkaConfig)
		if !ok {
			return nil, fmt.Errorf("invalid Kafka config type: %T", config)
		}
		return NewKafkaAdapter(cfg, opts...)
	})

	_ = factory.Register(TypeRedis, func(config interface{}, opts ...Option) (transport.RequestReplyBus, error) {
		cfg, ok := config.(RedisConfig)
		if !ok {
			return nil, fmt.Errorf("invalid Redis config type: %T", config)
		}
		return NewRedisAdapter(cfg, opts...)
	})

	_ = factory.Register(TypeGRPC, func(config interface{}, opts ...Option) (transport.RequestReplyBus, error) {
		cfg, ok := config.(GRPCConfig)
		if !ok {
			return nil, fmt.Errorf("invalid gRPC config type: %T", config)
		}
		return NewGRPCAdapter(cfg, opts...)
	})

	_ = factory.Register(TypeInMemory, func(config interface{}, opts ...Option) (transport.RequestReplyBus, error) {
		cfg, ok := config.(InMemoryConfig)
		if !ok {
			cfg = DefaultInMemoryConfig()
		}
		return NewInMemoryAdapter(cfg, opts...), nil
	})

	return factory
}

// Create создает MessageBus адаптер указанного типа
func (f *DefaultMessageBusFactory) Create(busType string, config interface{}, opts ...Option) (transport.RequestReplyBus, error) {
	f.mu.RLock()
	creator, exists := f.creators[busType]
	f.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown message bus type: %s", busType)
	}

	adapter, err := creator(config, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s adapter: %w", busType, err)
	}

	return adapter, nil
}

// FromConfig создает адаптер по секции конфигурации
func (f *DefaultMessageBusFactory) FromConfig(config Config, opts ...Option) (transport.RequestReplyBus, error) {
	busType := config.Type
	if busType == "" {
		busType = TypeInMemory
	}
	return f.Create(busType, config.Selected(), opts...)
}

// Register регистрирует custom адаптер
func (f *DefaultMessageBusFactory) Register(name string, creator Creator) error {
	if name == "" {
		return fmt.Errorf("adapter name cannot be empty")
	}
	if creator == nil {
		return fmt.Errorf("creator function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.creators[name]; exists {
		return fmt.Errorf("adapter %s already registered", name)
	}

	f.creators[name] = creator
	return nil
}

// Unregister удаляет регистрацию адаптера
func (f *DefaultMessageBusFactory) Unregister(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.creators[name]; !exists {
		return fmt.Errorf("adapter %s not registered", name)
	}

	delete(f.creators, name)
	return nil
}

// ListRegistered возвращает отсортированный список зарегистрированных адаптеров
func (f *DefaultMessageBusFactory) ListRegistered() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.creators))
	for name := range f.creators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateConfig валидирует секцию конфигурации шины
func ValidateConfig(config Config) error {
	switch config.Type {
	case "", TypeInMemory:
		return nil
	case TypeNATS:
		return config.NATS.Validate()
	case TypeKafka:
		return config.Kafka.Validate()
	case TypeRedis:
		return config.Redis.Validate()
	case TypeGRPC:
		return config.GRPC.Validate()
	default:
		return fmt.Errorf("unknown message bus type: %s", config.Type)
	}
}
