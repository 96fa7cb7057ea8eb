package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/events"
)

// HubConfig настройки потока событий WebSocket
type HubConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongWait        time.Duration `yaml:"pong_wait"`
	WriteWait       time.Duration `yaml:"write_wait"`
	// SendBuffer очередь сообщений клиента; медленный клиент отключается при переполнении
	SendBuffer int `yaml:"send_buffer"`
}

// DefaultHubConfig возвращает конфигурацию по умолчанию
func DefaultHubConfig() HubConfig {
	return HubConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		PingInterval:    54 * time.Second,
		PongWait:        60 * time.Second,
		WriteWait:       10 * time.Second,
		SendBuffer:      256,
	}
}

// Message сообщение потока событий
type Message struct {
	Type string       `json:"type"`
	Time time.Time    `json:"time"`
	Data events.Event `json:"data"`
}

// Hub рассылает события фреймворка подключенным WebSocket-клиентам.
// Реализует events.EventPublisher и подключается к менеджеру как публикатор.
type Hub struct {
	config   HubConfig
	upgrader websocket.Upgrader
	logger   core.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn   *websocket.Conn
	remote string
	send   chan []byte
	// component фильтр по источнику события (пусто = все)
	component string
	once      sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// NewHub создает Hub
func NewHub(config HubConfig, logger core.Logger) *Hub {
	if logger == nil {
		logger = core.NopLogger{}
	}
	defaults := DefaultHubConfig()
	if config.SendBuffer <= 0 {
		config.SendBuffer = defaults.SendBuffer
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.PongWait <= config.PingInterval {
		config.PongWait = config.PingInterval + config.PingInterval/9
	}
	if config.WriteWait <= 0 {
		config.WriteWait = defaults.WriteWait
	}
	return &Hub{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Publish рассылает событие клиентам
func (h *Hub) Publish(ctx context.Context, event events.Event) error {
	data, err := json.Marshal(Message{Type: event.EventType(), Time: event.OccurredAt(), Data: event})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		if c.component != "" && c.component != event.Source() {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("event stream client is too slow, disconnecting", "remote", c.remote)
			delete(h.clients, c)
			c.close()
		}
	}
	return nil
}

// Clients возвращает число подключенных клиентов
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP принимает WebSocket-соединение; параметр component ограничивает поток одним компонентом
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "err", err)
		return
	}

	c := &client{
		conn:      conn,
		remote:    conn.RemoteAddr().String(),
		send:      make(chan []byte, h.config.SendBuffer),
		component: r.URL.Query().Get("component"),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

// readPump читает до закрытия соединения клиентом; входящие сообщения игнорируются
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// Close отключает всех клиентов и перестает принимать новых
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

var _ events.EventPublisher = (*Hub)(nil)
