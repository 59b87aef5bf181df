// Package realtime maintains the push channel to the record store's
// change-notification feed and dispatches row events to per-topic handlers.
package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// EventType is the change kind delivered by the feed.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Event is one change notification: the new row for inserts/updates, the old
// row for deletes. Payloads stay raw until the boundary decode.
type Event struct {
	Topic string          `json:"topic"`
	Type  EventType       `json:"event"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

// Handler receives events for one subscription. Handlers run on the read
// loop goroutine, in delivery order.
type Handler func(Event)

// frame is a wire message in either direction.
type frame struct {
	Action string          `json:"action,omitempty"` // subscribe / unsubscribe
	Topic  string          `json:"topic,omitempty"`
	Event  EventType       `json:"event,omitempty"`
	New    json.RawMessage `json:"new,omitempty"`
	Old    json.RawMessage `json:"old,omitempty"`
}

// Client maintains a single ws connection to the change feed and fans
// received events out to topic subscriptions. Dropped connections are
// redialed after a fixed delay; the OnReconnect hook lets owners schedule a
// snapshot reconcile to heal the gap.
type Client struct {
	endpoint       string
	token          string
	dialTimeout    time.Duration
	reconnectDelay time.Duration
	log            *charmlog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	// handlersMu orders dispatch against Unsubscribe: dispatch holds the
	// read lock for the duration of the callbacks, so Unsubscribe returning
	// guarantees no further deliveries.
	handlersMu  sync.RWMutex
	subs        map[string]map[int]*subscription
	nextID      int
	onReconnect func()

	done   chan struct{}
	closed bool
}

// NewClient creates a feed client for the given websocket endpoint. The
// token is presented as a bearer credential during the handshake.
func NewClient(endpoint, token string, dialTimeout, reconnectDelay time.Duration, log *charmlog.Logger) *Client {
	return &Client{
		endpoint:       endpoint,
		token:          token,
		dialTimeout:    dialTimeout,
		reconnectDelay: reconnectDelay,
		log:            log,
		subs:           make(map[string]map[int]*subscription),
		done:           make(chan struct{}),
	}
}

// SetOnReconnect registers a hook invoked after every successful redial.
// Must be called before Start.
func (c *Client) SetOnReconnect(fn func()) {
	c.onReconnect = fn
}

// Start dials the feed once synchronously. A first-dial failure is returned
// to the caller (who may continue in pull-only mode); after a successful
// first dial the client keeps the connection alive in the background.
func (c *Client) Start() error {
	conn, err := c.dial()
	if err != nil {
		return fmt.Errorf("failed to open change feed: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	go c.run(conn)
	return nil
}

func (c *Client) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.dialTimeout}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := dialer.Dial(c.endpoint, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, fmt.Errorf("ws dial %s failed (status=%d): %w", c.endpoint, status, err)
	}
	return conn, nil
}

func (c *Client) run(conn *websocket.Conn) {
	c.readLoop(conn)

	for {
		select {
		case <-c.done:
			return
		case <-time.After(c.reconnectDelay):
		}

		conn, err := c.dial()
		if err != nil {
			c.log.Warnf("change feed redial failed: %v", err)
			continue
		}

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()

		c.resubscribe()
		if c.onReconnect != nil {
			c.onReconnect()
		}
		c.log.Debug("change feed reconnected")

		c.readLoop(conn)
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			select {
			case <-c.done:
			default:
				c.log.Warnf("change feed read failed: %v", err)
			}
			return
		}
		if f.Topic == "" || f.Event == "" {
			continue
		}
		c.dispatch(Event{Topic: f.Topic, Type: f.Event, New: f.New, Old: f.Old})
	}
}

func (c *Client) dispatch(ev Event) {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()

	for _, sub := range c.subs[ev.Topic] {
		sub.handler(ev)
	}
}

// Subscribe registers a handler for one topic and asks the feed to start
// delivering matching row changes. The returned func revokes the
// subscription: it blocks until any in-flight dispatch finishes, so no
// callback runs after it returns.
func (c *Client) Subscribe(topic string, handler Handler) (func(), error) {
	if handler == nil {
		return nil, fmt.Errorf("nil handler for topic %s", topic)
	}

	c.handlersMu.Lock()
	if c.closed {
		c.handlersMu.Unlock()
		return nil, fmt.Errorf("change feed client is closed")
	}
	c.nextID++
	sub := &subscription{topic: topic, id: c.nextID, handler: handler}
	if c.subs[topic] == nil {
		c.subs[topic] = make(map[int]*subscription)
	}
	c.subs[topic][sub.id] = sub
	c.handlersMu.Unlock()

	if err := c.send(frame{Action: "subscribe", Topic: topic}); err != nil {
		// Keep the registration: resubscribe will replay it on reconnect
		c.log.Warnf("subscribe frame for %s not sent: %v", topic, err)
	}

	return func() { c.unsubscribe(sub) }, nil
}

func (c *Client) resubscribe() {
	c.handlersMu.RLock()
	topics := make([]string, 0, len(c.subs))
	for topic, subs := range c.subs {
		if len(subs) > 0 {
			topics = append(topics, topic)
		}
	}
	c.handlersMu.RUnlock()

	for _, topic := range topics {
		if err := c.send(frame{Action: "subscribe", Topic: topic}); err != nil {
			c.log.Warnf("resubscribe frame for %s not sent: %v", topic, err)
		}
	}
}

func (c *Client) send(f frame) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteJSON(f)
}

// Close tears the client down. No handler runs after Close returns.
func (c *Client) Close() {
	c.handlersMu.Lock()
	if c.closed {
		c.handlersMu.Unlock()
		return
	}
	c.closed = true
	c.subs = make(map[string]map[int]*subscription)
	c.handlersMu.Unlock()

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

// subscription is one revocable topic registration.
type subscription struct {
	topic   string
	id      int
	handler Handler
}

func (c *Client) unsubscribe(s *subscription) {
	c.handlersMu.Lock()
	subs := c.subs[s.topic]
	delete(subs, s.id)
	empty := len(subs) == 0 && !c.closed
	if empty {
		delete(c.subs, s.topic)
	}
	c.handlersMu.Unlock()

	if empty {
		if err := c.send(frame{Action: "unsubscribe", Topic: s.topic}); err != nil {
			c.log.Debugf("unsubscribe frame for %s not sent: %v", s.topic, err)
		}
	}
}
