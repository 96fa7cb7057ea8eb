package messagebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/transport"
)

// RedisConfig конфигурация для Redis адаптера
type RedisConfig struct {
	Addr          string        `yaml:"addr"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	PoolSize      int           `yaml:"pool_size"`
	MaxRetries    int           `yaml:"max_retries"`
	StreamMaxLen  int64         `yaml:"stream_max_len"` // Максимальная длина stream (0 = без ограничений)
	ConsumerGroup string        `yaml:"consumer_group"`
	BlockTimeout  time.Duration `yaml:"block_timeout"`
	StreamName    string        `yaml:"stream_name"` // Префикс имен stream
}

// Validate проверяет корректность конфигурации
func (c RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	if c.StreamName == "" {
		return fmt.Errorf("stream_name cannot be empty")
	}
	if c.ConsumerGroup == "" {
		return fmt.Errorf("consumer_group cannot be empty")
	}
	if c.BlockTimeout <= 0 {
		return fmt.Errorf("block_timeout must be positive")
	}
	return nil
}

// DefaultRedisConfig возвращает конфигурацию Redis по умолчанию
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      10,
		MaxRetries:    3,
		StreamMaxLen:  10000,
		ConsumerGroup: "taskflow",
		BlockTimeout:  time.Second,
		StreamName:    "taskflow",
	}
}

// RedisAdapter реализация RequestReplyBus через Redis Streams
type RedisAdapter struct {
	config  RedisConfig
	instr   instrumentation
	client  *redis.Client
	mu      sync.RWMutex
	cancels map[string][]context.CancelFunc // stream -> читатели
	running bool
}

// NewRedisAdapter создает новый Redis адаптер и проверяет подключение
func NewRedisAdapter(config RedisConfig, opts ...Option) (*RedisAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:       config.Addr,
		Password:   config.Password,
		DB:         config.DB,
		PoolSize:   config.PoolSize,
		MaxRetries: config.MaxRetries,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, core.Wrap(err, core.ErrTransport, "failed to connect to Redis")
	}

	return NewRedisAdapterFromClient(client, config, opts...), nil
}

// NewRedisAdapterFromClient создает адаптер поверх существующего клиента
func NewRedisAdapterFromClient(client *redis.Client, config RedisConfig, opts ...Option) *RedisAdapter {
	return &RedisAdapter{
		config:  config,
		instr:   newInstrumentation("redis", opts),
		client:  client,
		cancels: make(map[string][]context.CancelFunc),
		running: true,
	}
}

// Start запускает адаптер (реализация core.Lifecycle)
func (r *RedisAdapter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = true
	return nil
}

// Stop останавливает читателей и закрывает клиент
func (r *RedisAdapter) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil
	}

	for stream, cancels := range r.cancels {
		for _, cancel := range cancels {
			cancel()
		}
		delete(r.cancels, stream)
	}

	r.running = false
	return r.client.Close()
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (r *RedisAdapter) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Name возвращает имя адаптера
func (r *RedisAdapter) Name() string {
	return "redis-adapter"
}

// Publish публикует сообщение в stream (XADD)
func (r *RedisAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	start := time.Now()
	err := r.xadd(ctx, r.streamName(subject), data, headers)
	r.instr.record(ctx, "publish", start, err)
	return err
}

func (r *RedisAdapter) xadd(ctx context.Context, stream string, data []byte, headers map[string]string) error {
	values := map[string]interface{}{"data": string(data)}
	if len(headers) > 0 {
		headersJSON, err := json.Marshal(headers)
		if err != nil {
			return core.Wrap(err, core.ErrTransport, "failed to encode headers")
		}
		values["headers"] = string(headersJSON)
	}

	args := redis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if r.config.StreamMaxLen > 0 {
		args.MaxLen = r.config.StreamMaxLen
		args.Approx = true // Приблизительный MAXLEN для производительности
	}

	if err := r.client.XAdd(ctx, &args).Err(); err != nil {
		return core.Wrap(err, core.ErrTransport, "failed to publish message")
	}
	return nil
}

// Subscribe подписывается на stream через consumer group (XREADGROUP)
func (r *RedisAdapter) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler) error {
	return r.consume(ctx, subject, "consumer", func(ctx context.Context, msg *transport.Message) {
		if err := handler(ctx, msg); err != nil {
			r.instr.logger.Warn("subscriber failed", "subject", subject, "err", err)
		}
	})
}

// Unsubscribe останавливает читателей stream
func (r *RedisAdapter) Unsubscribe(subject string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stream := r.streamName(subject)
	for _, cancel := range r.cancels[stream] {
		cancel()
	}
	delete(r.cancels, stream)
	return nil
}

// Request отправляет запрос и ждет ответа во временном reply stream
func (r *RedisAdapter) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) (*transport.Message, error) {
	start := time.Now()
	correlationID := uuid.NewString()
	replyStream := r.streamName(subject + ".reply." + correlationID)

	headers := map[string]string{
		HeaderCorrelationID: correlationID,
		HeaderReplyTo:       replyStream,
	}
	if err := r.xadd(ctx, r.streamName(subject), data, headers); err != nil {
		r.instr.record(ctx, "request", start, err)
		return nil, err
	}
	defer r.client.Del(context.WithoutCancel(ctx), replyStream)

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		streams, err := r.client.XRead(reqCtx, &redis.XReadArgs{
			Streams: []string{replyStream, "0"},
			Count:   1,
			Block:   min(timeout, r.config.BlockTimeout),
		}).Result()

		switch {
		case reqCtx.Err() != nil:
			err := core.Errorf(core.ErrTimeout, "request to %s timed out after %s", subject, timeout)
			r.instr.record(ctx, "request", start, err)
			return nil, err
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			wrapped := core.Wrap(err, core.ErrTransport, "failed to read reply")
			r.instr.record(ctx, "request", start, wrapped)
			return nil, wrapped
		}

		if len(streams) == 0 || len(streams[0].Messages) == 0 {
			continue
		}

		reply := decodeStreamMessage(subject, streams[0].Messages[0])
		if err := replyError(reply); err != nil {
			r.instr.record(ctx, "request", start, err)
			return nil, err
		}
		r.instr.record(ctx, "request", start, nil)
		return reply, nil
	}
}

// Respond обрабатывает запросы из stream и пишет ответы в reply stream запроса
func (r *RedisAdapter) Respond(ctx context.Context, subject string, handler func(ctx context.Context, request *transport.Message) (*transport.Message, error)) error {
	return r.consume(ctx, subject, "responder", func(ctx context.Context, msg *transport.Message) {
		replyStream, ok := msg.Headers[HeaderReplyTo]
		if !ok {
			return
		}

		reply, err := handler(ctx, msg)
		if err != nil {
			reply = errorReply(subject, err)
		}
		if reply == nil {
			reply = &transport.Message{}
		}

		headers := copyHeaders(reply.Headers)
		headers[HeaderCorrelationID] = msg.Headers[HeaderCorrelationID]
		if err := r.xadd(ctx, replyStream, reply.Data, headers); err != nil {
			r.instr.logger.Warn("failed to send reply", "subject", subject, "err", err)
			return
		}
		r.client.Expire(ctx, replyStream, time.Minute)
	})
}

// consume запускает читателя consumer group для subject
func (r *RedisAdapter) consume(ctx context.Context, subject, role string, deliver func(ctx context.Context, msg *transport.Message)) error {
	stream := r.streamName(subject)

	err := r.client.XGroupCreateMkStream(ctx, stream, r.config.ConsumerGroup, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return core.Wrap(err, core.ErrTransport, "failed to create consumer group")
	}

	readCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancels[stream] = append(r.cancels[stream], cancel)
	r.mu.Unlock()

	consumer := fmt.Sprintf("%s-%s", role, uuid.NewString())
	go func() {
		for readCtx.Err() == nil {
			streams, err := r.client.XReadGroup(readCtx, &redis.XReadGroupArgs{
				Group:    r.config.ConsumerGroup,
				Consumer: consumer,
				Streams:  []string{stream, ">"},
				Count:    10,
				Block:    r.config.BlockTimeout,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) || readCtx.Err() != nil {
					continue
				}
				r.instr.logger.Warn("redis read failed", "stream", stream, "err", err)
				select {
				case <-readCtx.Done():
				case <-time.After(time.Second):
				}
				continue
			}

			for _, s := range streams {
				for _, m := range s.Messages {
					deliver(readCtx, decodeStreamMessage(subject, m))
					_ = r.client.XAck(readCtx, s.Stream, r.config.ConsumerGroup, m.ID).Err()
				}
			}
		}
	}()

	return nil
}

func decodeStreamMessage(subject string, m redis.XMessage) *transport.Message {
	msg := &transport.Message{
		Subject: subject,
		Headers: make(map[string]string),
	}
	if data, ok := m.Values["data"].(string); ok {
		msg.Data = []byte(data)
	}
	if headers, ok := m.Values["headers"].(string); ok {
		_ = json.Unmarshal([]byte(headers), &msg.Headers)
	}
	return msg
}

// streamName преобразует subject в имя stream
func (r *RedisAdapter) streamName(subject string) string {
	if strings.HasPrefix(subject, r.config.StreamName+":") {
		return subject
	}
	return r.config.StreamName + ":" + subject
}

var _ transport.RequestReplyBus = (*RedisAdapter)(nil)
