package messagebus

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/transport"
)

// NATSConfig конфигурация NATS адаптера
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Name              string        `yaml:"name"`
	QueueGroup        string        `yaml:"queue_group"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectWait     time.Duration `yaml:"reconnect_wait"`
	DrainTimeout      time.Duration `yaml:"drain_timeout"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	TLS               *tls.Config   `yaml:"-"`
	Token             string        `yaml:"token"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
}

// Validate проверяет корректность конфигурации
func (c NATSConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("URL cannot be empty")
	}
	for _, url := range strings.Split(c.URL, ",") {
		url = strings.TrimSpace(url)
		if !strings.HasPrefix(url, "nats://") && !strings.HasPrefix(url, "tls://") {
			return fmt.Errorf("URL %q must start with nats:// or tls://", url)
		}
	}
	if (c.Username == "") != (c.Password == "") {
		return fmt.Errorf("username and password must be set together")
	}
	return nil
}

// DefaultNATSConfig возвращает конфигурацию NATS по умолчанию
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:               "nats://localhost:4222",
		QueueGroup:        "taskflow",
		MaxReconnects:     10,
		ReconnectWait:     2 * time.Second,
		DrainTimeout:      30 * time.Second,
		ConnectionTimeout: 5 * time.Second,
	}
}

func (c NATSConfig) options(logger core.Logger) []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.MaxReconnects),
		nats.ReconnectWait(c.ReconnectWait),
		nats.Timeout(c.ConnectionTimeout),
		nats.DrainTimeout(c.DrainTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "url", c.URL, "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if c.Name != "" {
		opts = append(opts, nats.Name(c.Name))
	}
	if c.TLS != nil {
		opts = append(opts, nats.Secure(c.TLS))
	}
	if c.Token != "" {
		opts = append(opts, nats.Token(c.Token))
	}
	if c.Username != "" {
		opts = append(opts, nats.UserInfo(c.Username, c.Password))
	}
	return opts
}

// NATSAdapter реализация RequestReplyBus через NATS.
// Request/reply использует встроенный механизм inbox NATS, ответчики одного
// subject объединены в queue group, поэтому экспорт компонента можно масштабировать.
type NATSAdapter struct {
	config NATSConfig
	instr  instrumentation

	mu      sync.RWMutex
	conn    *nats.Conn
	subs    map[string][]*nats.Subscription
	running bool
}

// NewNATSAdapter создает NATS адаптер; подключение выполняется в Start
func NewNATSAdapter(config NATSConfig, opts ...Option) (*NATSAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid nats config: %w", err)
	}
	if config.QueueGroup == "" {
		config.QueueGroup = DefaultNATSConfig().QueueGroup
	}
	return &NATSAdapter{
		config: config,
		instr:  newInstrumentation("nats", opts),
		subs:   make(map[string][]*nats.Subscription),
	}, nil
}

// Start подключается к серверу (реализация core.Lifecycle)
func (n *NATSAdapter) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return nil
	}
	conn, err := nats.Connect(n.config.URL, n.config.options(n.instr.logger)...)
	if err != nil {
		return core.Wrap(err, core.ErrTransport, "failed to connect to NATS "+n.config.URL)
	}
	n.conn = conn
	n.running = true
	n.instr.logger.Info("nats bus connected", "url", conn.ConnectedUrl())
	return nil
}

// Stop снимает подписки и дренирует соединение (реализация core.Lifecycle)
func (n *NATSAdapter) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return nil
	}
	for subject, subs := range n.subs {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
		delete(n.subs, subject)
	}

	var err error
	if n.conn != nil && n.conn.IsConnected() {
		err = n.conn.Drain()
	}
	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
	}
	n.running = false
	return err
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (n *NATSAdapter) IsRunning() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.running
}

// Name возвращает имя адаптера
func (n *NATSAdapter) Name() string {
	return "nats-adapter"
}

func (n *NATSAdapter) connection() (*nats.Conn, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.conn == nil {
		return nil, errNATSNotConnected
	}
	return n.conn, nil
}

// Publish публикует сообщение в subject
func (n *NATSAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	start := time.Now()
	conn, err := n.connection()
	if err != nil {
		return err
	}

	if err := conn.PublishMsg(toNATS(subject, data, headers)); err != nil {
		err = core.Wrap(err, core.ErrTransport, "failed to publish to "+subject)
		n.instr.record(ctx, "publish", start, err)
		return err
	}
	n.instr.record(ctx, "publish", start, nil)
	return nil
}

// Subscribe подписывается на subject; все экземпляры получают каждое сообщение
func (n *NATSAdapter) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler) error {
	conn, err := n.connection()
	if err != nil {
		return err
	}

	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		if err := handler(ctx, fromNATS(msg)); err != nil {
			n.instr.logger.Warn("subscriber failed", "subject", msg.Subject, "err", err)
		}
	})
	if err != nil {
		return core.Wrap(err, core.ErrTransport, "failed to subscribe to "+subject)
	}
	n.track(subject, sub)
	return nil
}

// Unsubscribe отписывается от subject
func (n *NATSAdapter) Unsubscribe(subject string) error {
	n.mu.Lock()
	subs := n.subs[subject]
	delete(n.subs, subject)
	n.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return core.Wrap(errors.Join(errs...), core.ErrTransport, "failed to unsubscribe from "+subject)
	}
	return nil
}

func (n *NATSAdapter) track(subject string, sub *nats.Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs[subject] = append(n.subs[subject], sub)
}

// Request отправляет запрос и ждет ответа не дольше timeout
func (n *NATSAdapter) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) (*transport.Message, error) {
	start := time.Now()
	conn, err := n.connection()
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply, err := conn.RequestMsgWithContext(reqCtx, toNATS(subject, data, nil))
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
		err = core.Wrap(err, core.ErrTimeout, "request to "+subject+" timed out")
	case errors.Is(err, nats.ErrNoResponders):
		err = core.Wrap(err, core.ErrTransport, "no process serves "+subject)
	default:
		err = core.Wrap(err, core.ErrTransport, "request to "+subject+" failed")
	}
	if err != nil {
		n.instr.record(ctx, "request", start, err)
		return nil, err
	}

	out := fromNATS(reply)
	err = replyError(out)
	n.instr.record(ctx, "request", start, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Respond регистрирует обработчик запросов в queue group адаптера
func (n *NATSAdapter) Respond(ctx context.Context, subject string, handler func(ctx context.Context, request *transport.Message) (*transport.Message, error)) error {
	conn, err := n.connection()
	if err != nil {
		return err
	}

	sub, err := conn.QueueSubscribe(subject, n.config.QueueGroup, func(msg *nats.Msg) {
		if msg.Reply == "" {
			return
		}
		reply, err := handler(ctx, fromNATS(msg))
		if err != nil {
			reply = errorReply(msg.Subject, err)
		}
		if reply == nil {
			reply = &transport.Message{}
		}
		if err := conn.PublishMsg(toNATS(msg.Reply, reply.Data, reply.Headers)); err != nil {
			n.instr.logger.Warn("failed to send reply", "subject", msg.Subject, "err", err)
		}
	})
	if err != nil {
		return core.Wrap(err, core.ErrTransport, "failed to register responder for "+subject)
	}
	n.track(subject, sub)
	return nil
}

func toNATS(subject string, data []byte, headers map[string]string) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	return msg
}

func fromNATS(msg *nats.Msg) *transport.Message {
	out := &transport.Message{
		Subject: msg.Subject,
		Data:    msg.Data,
		Headers: make(map[string]string, len(msg.Header)),
	}
	for k := range msg.Header {
		out.Headers[k] = msg.Header.Get(k)
	}
	return out
}

var errNATSNotConnected = core.NewError(core.ErrTransport, "nats adapter is not connected")

var _ transport.RequestReplyBus = (*NATSAdapter)(nil)
