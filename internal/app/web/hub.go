package web

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"AssistantChat/internal/service/events"
)

const (
	sendBuffer      = 256
	broadcastBuffer = 256

	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	maxReadSize  = 4096
)

// ErrBufferFull: буфер отправки подключения заполнен.
var ErrBufferFull = errors.New("send buffer full")

// Ensure interface compliance
var _ events.Sink = (*Hub)(nil)

// Connection: одно websocket-подключение браузера.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	mu   sync.Mutex
}

// WriteMessage пишет в сокет под мьютексом: gorilla не допускает параллельных писателей.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

func (c *Connection) Close() error { return c.Conn.Close() }

// Hub рассылает события цикла всем подключённым браузерам.
type Hub struct {
	connections map[string]*Connection

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan []byte
	done       chan struct{}

	logger  *zap.SugaredLogger
	mu      sync.RWMutex
	started atomic.Bool
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		connections: make(map[string]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan []byte, broadcastBuffer),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Run: главный цикл хаба. После отмены ctx все подключения закрываются.
// Хаб запускается один раз, повторный Run сразу возвращается.
func (h *Hub) Run(ctx context.Context) {
	if !h.started.CompareAndSwap(false, true) {
		return
	}
	defer func() {
		h.mu.Lock()
		for id, conn := range h.connections {
			delete(h.connections, id)
			close(conn.Send)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			n := len(h.connections)
			h.mu.Unlock()
			h.logger.Debugw("Подключение зарегистрировано", "conn_id", conn.ID, "connections", n)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				close(conn.Send)
			}
			h.mu.Unlock()
			h.logger.Debugw("Подключение снято", "conn_id", conn.ID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for id, conn := range h.connections {
				select {
				case conn.Send <- msg:
				default:
					h.logger.Warnw("Буфер подключения переполнен, закрываем", "conn_id", id)
					go h.Unregister(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.NewString(),
		Conn: ws,
		Send: make(chan []byte, sendBuffer),
	}
}

// Register регистрирует подключение. После остановки хаба: no-op.
func (h *Hub) Register(conn *Connection) bool {
	select {
	case h.register <- conn:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Publish рассылает событие. Не блокирует цикл отправки: при переполнении событие теряется.
func (h *Hub) Publish(_ context.Context, e events.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Warnw("Не удалось сериализовать событие", "kind", e.Kind, "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warnw("Очередь рассылки переполнена, событие пропущено", "kind", e.Kind)
	}
}

// SendJSON отправляет сообщение одному подключению.
func (h *Hub) SendJSON(conn *Connection, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}
