// Package websocket implements the real-time invalidation channel: one
// subscription per watched entity, with every notification dispatched
// into the sync client's invalidation path. Pushed payloads are never
// applied as entity values; the pull path stays the single source of
// authoritative data.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pulsedesk-sync/application/ports"
	"pulsedesk-sync/domain/entities"
	pkgerrors "pulsedesk-sync/pkg/errors"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// Reconnect backoff bounds
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// Invalidator receives change notifications and is expected to evict the
// cache entry and force a coordinated re-fetch.
type Invalidator func(kind entities.Kind, id string)

// Notification is the server's change message. It may carry a change
// summary but never a full payload the client would trust as data.
type Notification struct {
	Kind   entities.Kind `json:"kind"`
	ID     string        `json:"id"`
	Change string        `json:"change,omitempty"`
}

type interestFrame struct {
	Action string        `json:"action"` // subscribe | unsubscribe
	Kind   entities.Kind `json:"kind"`
	ID     string        `json:"id"`
}

// Channel maintains the websocket connection, resubscribing all interests
// after every reconnect. Connection failures surface on Errors() as
// connectivity-class errors and never touch cached data.
type Channel struct {
	url        string
	header     http.Header
	invalidate Invalidator
	logger     *zap.Logger
	dialer     *websocket.Dialer

	mu      sync.Mutex // guards conn, subs, handles, writes
	conn    *websocket.Conn
	subs    map[string]int
	handles map[string]interestFrame

	errs     chan error
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ ports.PushChannel = (*Channel)(nil)

// NewChannel creates a channel for wsURL. Call Run to connect.
func NewChannel(wsURL string, token string, invalidate Invalidator, logger *zap.Logger) *Channel {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &Channel{
		url:        wsURL,
		header:     header,
		invalidate: invalidate,
		logger:     logger,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		subs:       make(map[string]int),
		handles:    make(map[string]interestFrame),
		errs:       make(chan error, 16),
		stopCh:     make(chan struct{}),
	}
}

// Run connects and keeps the channel alive with bounded-backoff
// reconnects until Close is called. It blocks; run it in a goroutine.
func (c *Channel) Run() {
	backoff := reconnectBase
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		conn, _, err := c.dialer.Dial(c.url, c.header)
		if err != nil {
			c.reportError(pkgerrors.NewConnectivityError("push channel dial failed", err))
			if !c.sleep(backoff) {
				return
			}
			backoff = min(backoff*2, reconnectMax)
			continue
		}
		backoff = reconnectBase

		c.logger.Info("push channel connected", zap.String("url", c.url))
		c.attach(conn)
		c.resubscribeAll()

		done := make(chan struct{})
		c.wg.Add(1)
		go c.pingLoop(conn, done)

		c.readPump(conn)
		close(done)
		c.detach(conn)
	}
}

// Subscribe registers interest in one entity. Multiple subscriptions for
// the same entity share a single server-side registration.
func (c *Channel) Subscribe(kind entities.Kind, id string) (ports.PushSubscription, error) {
	frame := interestFrame{Action: "subscribe", Kind: kind, ID: id}
	key := string(kind) + "/" + id

	c.mu.Lock()
	defer c.mu.Unlock()

	handle := uuid.New().String()
	c.handles[handle] = frame
	c.subs[key]++

	if c.subs[key] == 1 && c.conn != nil {
		if err := c.writeFrame(c.conn, frame); err != nil {
			// The interest is recorded; resubscribe covers it after
			// reconnect.
			return &subscription{channel: c, handle: handle},
				pkgerrors.NewConnectivityError("sending subscribe frame", err)
		}
	}
	return &subscription{channel: c, handle: handle}, nil
}

// Errors exposes connectivity failures as a distinct error class. The
// channel is buffered; unread errors are dropped.
func (c *Channel) Errors() <-chan error {
	return c.errs
}

// Close tears the channel down.
func (c *Channel) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

type subscription struct {
	channel *Channel
	handle  string
	once    sync.Once
}

// Unsubscribe drops the interest; the server-side registration is removed
// when the last subscriber for the entity goes away.
func (s *subscription) Unsubscribe() {
	s.once.Do(func() { s.channel.unsubscribe(s.handle) })
}

func (c *Channel) unsubscribe(handle string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	frame, ok := c.handles[handle]
	if !ok {
		return
	}
	delete(c.handles, handle)

	key := string(frame.Kind) + "/" + frame.ID
	c.subs[key]--
	if c.subs[key] > 0 {
		return
	}
	delete(c.subs, key)

	if c.conn != nil {
		frame.Action = "unsubscribe"
		if err := c.writeFrame(c.conn, frame); err != nil {
			c.logger.Debug("sending unsubscribe frame", zap.Error(err))
		}
	}
}

func (c *Channel) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
}

func (c *Channel) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

func (c *Channel) resubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool)
	for _, frame := range c.handles {
		key := string(frame.Kind) + "/" + frame.ID
		if seen[key] {
			continue
		}
		seen[key] = true
		frame.Action = "subscribe"
		if err := c.writeFrame(c.conn, frame); err != nil {
			c.logger.Warn("resubscribe failed", zap.String("key", key), zap.Error(err))
			return
		}
	}
}

// writeFrame sends a JSON control frame. Callers hold c.mu, which also
// serializes writers on the connection.
func (c *Channel) writeFrame(conn *websocket.Conn, frame interestFrame) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(frame)
}

func (c *Channel) readPump(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stopCh:
			default:
				c.reportError(pkgerrors.NewConnectivityError("push channel read failed", err))
			}
			return
		}

		var n Notification
		if err := json.Unmarshal(message, &n); err != nil {
			c.logger.Debug("ignoring undecodable push message", zap.Error(err))
			continue
		}
		if n.Kind == "" || n.ID == "" {
			continue
		}

		c.logger.Debug("push notification",
			zap.String("kind", string(n.Kind)),
			zap.String("id", n.ID),
			zap.String("change", n.Change),
		)
		c.invalidate(n.Kind, n.ID)
	}
}

func (c *Channel) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Channel) reportError(err error) {
	select {
	case c.errs <- err:
	default:
	}
}

func (c *Channel) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
