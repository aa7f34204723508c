package monitor

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-clacks/logger"
	"github.com/arloliu/go-clacks/packet"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 4096

	// DefaultClientBuffer is the per-client queue used for non-positive sizes.
	DefaultClientBuffer = 256
)

// ErrFeedClosed is returned by ServeHTTP after Close.
var ErrFeedClosed = errors.New("monitor: feed closed")

// Feed streams observed packets to WebSocket clients as JSON text messages.
//
// Observe never blocks: a client whose buffer is full misses the packet.
// Feed is an http.Handler; mount it on the monitor route.
type Feed struct {
	logger     logger.Logger
	upgrader   websocket.Upgrader
	bufferSize int

	clients *xsync.MapOf[*feedClient, struct{}]
	closed  atomic.Bool
	dropped atomic.Uint64
}

// NewFeed creates a Feed with a per-client buffer of bufferSize packets.
func NewFeed(l logger.Logger, bufferSize int) *Feed {
	if bufferSize <= 0 {
		bufferSize = DefaultClientBuffer
	}

	return &Feed{
		logger:     l,
		bufferSize: bufferSize,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: xsync.NewMapOf[*feedClient, struct{}](),
	}
}

// Observe sends p to every connected client.
func (f *Feed) Observe(p packet.Packet) {
	if f.clients.Size() == 0 {
		return
	}

	msg, err := json.Marshal(p)
	if err != nil {
		f.logger.Error("monitor: marshal packet", "error", err)
		return
	}

	f.clients.Range(func(c *feedClient, _ struct{}) bool {
		if !c.enqueue(msg) {
			f.dropped.Add(1)
		}

		return true
	})
}

// ServeHTTP upgrades the request and streams packets until the client leaves.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.closed.Load() {
		http.Error(w, ErrFeedClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("monitor: websocket upgrade failed", "error", err)
		return
	}

	c := &feedClient{
		conn: conn,
		send: make(chan []byte, f.bufferSize),
		done: make(chan struct{}),
	}
	f.clients.Store(c, struct{}{})
	f.logger.Debug("monitor: client connected", "remote", conn.RemoteAddr().String())

	go c.writePump()
	c.readPump()

	f.clients.Delete(c)
	f.logger.Debug("monitor: client disconnected", "remote", conn.RemoteAddr().String())
}

// ClientCount returns the number of connected clients.
func (f *Feed) ClientCount() int {
	return f.clients.Size()
}

// Dropped returns the number of packets not delivered because a client buffer was full.
func (f *Feed) Dropped() uint64 {
	return f.dropped.Load()
}

// Close disconnects every client and refuses new ones.
func (f *Feed) Close() {
	f.closed.Store(true)

	f.clients.Range(func(c *feedClient, _ struct{}) bool {
		c.stop()
		_ = c.conn.Close()
		f.clients.Delete(c)

		return true
	})
}

type feedClient struct {
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	stopOnce sync.Once
}

func (c *feedClient) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *feedClient) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// readPump discards client messages and keeps the read deadline fresh.
func (c *feedClient) readPump() {
	defer func() {
		c.stop()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *feedClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

			return

		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.stop()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.stop()
				return
			}
		}
	}
}
