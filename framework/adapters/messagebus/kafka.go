package messagebus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/transport"
)

// KafkaConfig конфигурация для Kafka адаптера
type KafkaConfig struct {
	Brokers        []string            `yaml:"brokers"`
	GroupID        string              `yaml:"group_id"`
	ReplyTopic     string              `yaml:"reply_topic"` // Топик ответов этого процесса (пусто = сгенерировать)
	Compression    string              `yaml:"compression"` // none, gzip, snappy, lz4, zstd
	BatchSize      int                 `yaml:"batch_size"`
	FlushInterval  time.Duration       `yaml:"flush_interval"`
	ConsumerConfig KafkaConsumerConfig `yaml:"consumer"`
	ProducerConfig KafkaProducerConfig `yaml:"producer"`
}

// Validate проверяет корректность конфигурации
func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("brokers cannot be empty")
	}
	for i, broker := range c.Brokers {
		if broker == "" {
			return fmt.Errorf("broker[%d] cannot be empty", i)
		}
		// Простая проверка формата host:port
		if !strings.Contains(broker, ":") {
			return fmt.Errorf("broker[%d] must be in format host:port", i)
		}
	}
	if c.GroupID == "" {
		return fmt.Errorf("group_id cannot be empty")
	}
	return nil
}

// KafkaConsumerConfig конфигурация для Kafka consumer
type KafkaConsumerConfig struct {
	MinBytes       int           `yaml:"min_bytes"`
	MaxBytes       int           `yaml:"max_bytes"`
	MaxWait        time.Duration `yaml:"max_wait"`
	StartOffset    int64         `yaml:"start_offset"` // -2 (earliest), -1 (latest)
	CommitInterval time.Duration `yaml:"commit_interval"`
}

// KafkaProducerConfig конфигурация для Kafka producer
type KafkaProducerConfig struct {
	RequiredAcks int `yaml:"required_acks"` // 0, 1, -1 (all)
	MaxAttempts  int `yaml:"max_attempts"`
}

// DefaultKafkaConfig возвращает конфигурацию Kafka по умолчанию
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:       []string{"localhost:9092"},
		GroupID:       "taskflow",
		Compression:   "snappy",
		BatchSize:     100,
		FlushInterval: 10 * time.Millisecond,
		ConsumerConfig: KafkaConsumerConfig{
			MinBytes:       1,
			MaxBytes:       10e6, // 10MB
			MaxWait:        100 * time.Millisecond,
			StartOffset:    kafka.LastOffset,
			CommitInterval: time.Second,
		},
		ProducerConfig: KafkaProducerConfig{
			RequiredAcks: -1, // all
			MaxAttempts:  3,
		},
	}
}

// KafkaAdapter реализация RequestReplyBus через Kafka.
// Ответы на запросы процесса приходят в один reply-топик и разбираются по correlation ID.
type KafkaAdapter struct {
	config  KafkaConfig
	instr   instrumentation
	writer  *kafka.Writer
	mu      sync.RWMutex
	readers map[string][]*kafka.Reader
	running bool

	replyOnce sync.Once
	replyErr  error
	pendingMu sync.Mutex
	pending   map[string]chan *transport.Message
	cancel    context.CancelFunc
}

// NewKafkaAdapter создает новый Kafka адаптер
func NewKafkaAdapter(config KafkaConfig, opts ...Option) (*KafkaAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kafka config: %w", err)
	}
	if config.ReplyTopic == "" {
		config.ReplyTopic = "taskflow.replies." + uuid.NewString()
	}

	return &KafkaAdapter{
		config:  config,
		instr:   newInstrumentation("kafka", opts),
		readers: make(map[string][]*kafka.Reader),
		pending: make(map[string]chan *transport.Message),
		running: true,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(config.Brokers...),
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequiredAcks(config.ProducerConfig.RequiredAcks),
			MaxAttempts:            config.ProducerConfig.MaxAttempts,
			BatchSize:              config.BatchSize,
			BatchTimeout:           config.FlushInterval,
			Compression:            compression(config.Compression),
			AllowAutoTopicCreation: true,
		},
	}, nil
}

// compression преобразует строку в kafka.Compression
func compression(name string) kafka.Compression {
	switch name {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}

// Start запускает адаптер (реализация core.Lifecycle)
func (k *KafkaAdapter) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.running = true
	return nil
}

// Stop закрывает читателей и writer
func (k *KafkaAdapter) Stop(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.running {
		return nil
	}

	if k.cancel != nil {
		k.cancel()
	}
	for topic, readers := range k.readers {
		for _, reader := range readers {
			_ = reader.Close()
		}
		delete(k.readers, topic)
	}

	k.running = false
	return k.writer.Close()
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (k *KafkaAdapter) IsRunning() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.running
}

// Name возвращает имя адаптера
func (k *KafkaAdapter) Name() string {
	return "kafka-adapter"
}

// Publish публикует сообщение в топик
func (k *KafkaAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	start := time.Now()
	err := k.write(ctx, subject, data, headers)
	k.instr.record(ctx, "publish", start, err)
	return err
}

func (k *KafkaAdapter) write(ctx context.Context, topic string, data []byte, headers map[string]string) error {
	msg := kafka.Message{
		Topic:   topic,
		Value:   data,
		Headers: make([]kafka.Header, 0, len(headers)),
	}
	for key, value := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: key, Value: []byte(value)})
	}
	if id, ok := headers[HeaderCorrelationID]; ok {
		msg.Key = []byte(id)
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return core.Wrap(err, core.ErrTransport, "failed to publish message")
	}
	return nil
}

// Subscribe подписывается на топик через consumer group
func (k *KafkaAdapter) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler) error {
	k.consume(ctx, k.groupReader(subject), func(ctx context.Context, msg *transport.Message) bool {
		if err := handler(ctx, msg); err != nil {
			k.instr.logger.Warn("subscriber failed", "topic", subject, "err", err)
			return false
		}
		return true
	})
	return nil
}

// Unsubscribe закрывает читателей топика
func (k *KafkaAdapter) Unsubscribe(subject string) error {
	k.mu.Lock()
	readers := k.readers[subject]
	delete(k.readers, subject)
	k.mu.Unlock()

	var errs []error
	for _, reader := range readers {
		if err := reader.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return core.Wrap(errors.Join(errs...), core.ErrTransport, "failed to close reader")
	}
	return nil
}

// Request публикует запрос и ждет ответ в reply-топике процесса
func (k *KafkaAdapter) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) (*transport.Message, error) {
	start := time.Now()
	if err := k.startReplies(); err != nil {
		k.instr.record(ctx, "request", start, err)
		return nil, err
	}

	correlationID := uuid.NewString()
	replyCh := make(chan *transport.Message, 1)

	k.pendingMu.Lock()
	k.pending[correlationID] = replyCh
	k.pendingMu.Unlock()
	defer func() {
		k.pendingMu.Lock()
		delete(k.pending, correlationID)
		k.pendingMu.Unlock()
	}()

	headers := map[string]string{
		HeaderCorrelationID: correlationID,
		HeaderReplyTo:       k.config.ReplyTopic,
	}
	if err := k.write(ctx, subject, data, headers); err != nil {
		k.instr.record(ctx, "request", start, err)
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case reply := <-replyCh:
		if err := replyError(reply); err != nil {
			k.instr.record(ctx, "request", start, err)
			return nil, err
		}
		k.instr.record(ctx, "request", start, nil)
		return reply, nil
	case <-reqCtx.Done():
		err := core.Errorf(core.ErrTimeout, "request to %s timed out after %s", subject, timeout)
		k.instr.record(ctx, "request", start, err)
		return nil, err
	}
}

// Respond обрабатывает запросы топика и пишет ответы в reply-топик запроса
func (k *KafkaAdapter) Respond(ctx context.Context, subject string, handler func(ctx context.Context, request *transport.Message) (*transport.Message, error)) error {
	k.consume(ctx, k.groupReader(subject), func(ctx context.Context, msg *transport.Message) bool {
		replyTopic, ok := msg.Headers[HeaderReplyTo]
		if !ok {
			return true
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
		if err := k.write(ctx, replyTopic, reply.Data, headers); err != nil {
			k.instr.logger.Warn("failed to send reply", "topic", subject, "err", err)
		}
		return true
	})
	return nil
}

// DeadLetter отправляет необработанное сообщение в DLQ топик
func (k *KafkaAdapter) DeadLetter(ctx context.Context, msg *transport.Message, reason string) error {
	headers := copyHeaders(msg.Headers)
	headers["original_topic"] = msg.Subject
	headers["reason"] = reason
	headers["timestamp"] = time.Now().Format(time.RFC3339)

	return k.Publish(ctx, msg.Subject+".dlq", msg.Data, headers)
}

// startReplies однократно запускает читателя reply-топика
func (k *KafkaAdapter) startReplies() error {
	k.replyOnce.Do(func() {
		k.mu.Lock()
		defer k.mu.Unlock()
		if !k.running {
			k.replyErr = core.NewError(core.ErrTransport, "kafka adapter is stopped")
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		k.cancel = cancel

		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     k.config.Brokers,
			Topic:       k.config.ReplyTopic,
			StartOffset: kafka.FirstOffset,
			MinBytes:    1,
			MaxBytes:    k.config.ConsumerConfig.MaxBytes,
			MaxWait:     k.config.ConsumerConfig.MaxWait,
		})
		k.readers[k.config.ReplyTopic] = append(k.readers[k.config.ReplyTopic], reader)

		go func() {
			for ctx.Err() == nil {
				m, err := reader.ReadMessage(ctx)
				if err != nil {
					if ctx.Err() == nil && !errors.Is(err, io.EOF) {
						k.instr.logger.Warn("kafka reply read failed", "topic", k.config.ReplyTopic, "err", err)
					}
					if errors.Is(err, io.EOF) {
						return
					}
					continue
				}

				reply := fromKafka(m)
				k.pendingMu.Lock()
				ch, ok := k.pending[reply.Headers[HeaderCorrelationID]]
				k.pendingMu.Unlock()
				if ok {
					select {
					case ch <- reply:
					default:
					}
				}
			}
		}()
	})
	return k.replyErr
}

func (k *KafkaAdapter) groupReader(topic string) *kafka.Reader {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        k.config.Brokers,
		Topic:          topic,
		GroupID:        k.config.GroupID,
		MinBytes:       k.config.ConsumerConfig.MinBytes,
		MaxBytes:       k.config.ConsumerConfig.MaxBytes,
		MaxWait:        k.config.ConsumerConfig.MaxWait,
		StartOffset:    k.config.ConsumerConfig.StartOffset,
		CommitInterval: k.config.ConsumerConfig.CommitInterval,
	})

	k.mu.Lock()
	k.readers[topic] = append(k.readers[topic], reader)
	k.mu.Unlock()
	return reader
}

// consume читает топик до закрытия читателя; offset фиксируется, когда deliver вернул true
func (k *KafkaAdapter) consume(ctx context.Context, reader *kafka.Reader, deliver func(ctx context.Context, msg *transport.Message) bool) {
	go func() {
		for ctx.Err() == nil {
			m, err := reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, io.EOF) {
					return
				}
				k.instr.logger.Warn("kafka fetch failed", "topic", reader.Config().Topic, "err", err)
				continue
			}

			if deliver(ctx, fromKafka(m)) {
				_ = reader.CommitMessages(ctx, m)
			}
		}
	}()
}

func fromKafka(m kafka.Message) *transport.Message {
	msg := &transport.Message{
		Subject: m.Topic,
		Data:    m.Value,
		Headers: make(map[string]string, len(m.Headers)),
	}
	for _, h := range m.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}
	return msg
}

var _ transport.RequestReplyBus = (*KafkaAdapter)(nil)
