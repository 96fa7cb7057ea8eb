package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/akriventsev/taskflow/framework/core"
)

// RedisConfig конфигурация каталога в Redis
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// Validate проверяет корректность конфигурации
func (c RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	if c.Prefix == "" {
		return fmt.Errorf("prefix cannot be empty")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	return nil
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "taskflow:directory",
		TTL:    30 * time.Second,
	}
}

// Redis каталог в Redis: одна строка JSON на процесс с истечением через TTL
type Redis struct {
	config RedisConfig
	client *redis.Client
}

// NewRedis подключается к Redis и проверяет соединение
func NewRedis(config RedisConfig) (*Redis, error) {
	if err := config.Validate(); err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "invalid redis directory config")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, core.Wrap(err, core.ErrTransport, "failed to connect to Redis")
	}
	return NewRedisFromClient(client, config), nil
}

// NewRedisFromClient создает каталог поверх существующего клиента
func NewRedisFromClient(client *redis.Client, config RedisConfig) *Redis {
	return &Redis{config: config, client: client}
}

// Register сохраняет запись с истечением через TTL
func (r *Redis) Register(ctx context.Context, entry Entry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	entry.UpdatedAt = time.Now()
	if entry.StartedAt.IsZero() {
		entry.StartedAt = entry.UpdatedAt
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(entry.Process), data, r.config.TTL).Err(); err != nil {
		return core.Wrap(err, core.ErrTransport, "failed to register process")
	}
	return nil
}

// Deregister удаляет запись
func (r *Redis) Deregister(ctx context.Context, process string) error {
	n, err := r.client.Del(ctx, r.key(process)).Result()
	if err != nil {
		return core.Wrap(err, core.ErrTransport, "failed to deregister process")
	}
	if n == 0 {
		return core.Errorf(core.ErrNotFound, "process %s is not registered", process)
	}
	return nil
}

// Lookup возвращает запись процесса
func (r *Redis) Lookup(ctx context.Context, process string) (Entry, error) {
	data, err := r.client.Get(ctx, r.key(process)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, core.Errorf(core.ErrNotFound, "process %s is not registered", process)
	}
	if err != nil {
		return Entry{}, core.Wrap(err, core.ErrTransport, "failed to lookup process")
	}
	return decodeEntry(data)
}

// List обходит ключи с префиксом каталога
func (r *Redis) List(ctx context.Context) ([]Entry, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.config.Prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, core.Wrap(err, core.ErrTransport, "failed to scan directory")
	}
	if len(keys) == 0 {
		return []Entry{}, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, core.Wrap(err, core.ErrTransport, "failed to read directory")
	}
	entries := make([]Entry, 0, len(values))
	for _, v := range values {
		// ключ мог истечь между SCAN и MGET
		s, ok := v.(string)
		if !ok {
			continue
		}
		entry, err := decodeEntry([]byte(s))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	sortEntries(entries)
	return entries, nil
}

// Close закрывает клиент
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(process string) string {
	return r.config.Prefix + ":" + process
}

func decodeEntry(data []byte) (Entry, error) {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, core.Wrap(err, core.ErrTransport, "invalid directory entry")
	}
	return entry, nil
}

var _ Directory = (*Redis)(nil)
