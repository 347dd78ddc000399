package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"community-chat/internal/models"
)

const (
	writeWait = 10 * time.Second
	readWait  = 75 * time.Second
)

var (
	ErrNotConnected = errors.New("realtime: not connected")
	ErrClosed       = errors.New("realtime: connection closed")
)

// Options tune a Conn. Zero values pick defaults.
type Options struct {
	// Backoff builds the policy used between reconnect attempts.
	Backoff func() backoff.BackOff
	// OnReconnect runs after a dropped connection is re-established and
	// live subscriptions are re-sent.
	OnReconnect func()
	Dialer      *websocket.Dialer
}

// Conn is one multiplexed websocket to the chat server. It owns the
// subscription registry and keeps it alive across reconnects.
type Conn struct {
	url   string
	token string
	opts  Options

	mu     sync.Mutex
	ws     *websocket.Conn
	subs   map[string]*Subscription
	closed bool

	writeMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewConn(url, token string, opts Options) *Conn {
	if opts.Backoff == nil {
		opts.Backoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		}
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Conn{url: url, token: token, opts: opts, subs: make(map[string]*Subscription)}
}

// Connect dials the server and starts the read loop. Later disconnects are
// retried in the background until Close.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.closed = false
	c.mu.Unlock()

	ws, err := c.dial(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	c.resubscribe()
	go c.run(runCtx, ws, done)
	return nil
}

// Close stops reconnecting, closes the socket and every subscription.
func (c *Conn) Close() error {
	c.mu.Lock()
	cancel, done, ws := c.cancel, c.done, c.ws
	c.cancel = nil
	c.closed = true
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		c.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		_ = ws.Close()
	}
	if done != nil {
		<-done
	}

	c.mu.Lock()
	for topic, sub := range c.subs {
		sub.setState(StateClosed)
		delete(c.subs, topic)
	}
	c.mu.Unlock()
	return nil
}

// Subscribe returns the live subscription for topic, creating it when there
// is none or the previous one is terminal.
func (c *Conn) Subscribe(topic string, handler Handler) *Subscription {
	c.mu.Lock()
	if sub, ok := c.subs[topic]; ok && sub.Live() {
		c.mu.Unlock()
		return sub
	}
	sub := newSubscription(topic, handler)
	c.subs[topic] = sub
	c.mu.Unlock()

	if err := c.send(models.Command{Command: models.CommandSubscribe, Identifier: topic}); err != nil {
		log.Printf("realtime subscribe deferred: topic=%s err=%v", topic, err)
	}
	return sub
}

// Unsubscribe closes sub and removes it from the registry.
func (c *Conn) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	c.mu.Lock()
	if current, ok := c.subs[sub.Topic]; ok && current == sub {
		delete(c.subs, sub.Topic)
	}
	c.mu.Unlock()

	if sub.State() == StateClosed {
		return
	}
	sub.setState(StateClosed)
	if err := c.send(models.Command{Command: models.CommandUnsubscribe, Identifier: sub.Topic}); err != nil {
		log.Printf("realtime unsubscribe failed: topic=%s err=%v", sub.Topic, err)
	}
}

// Subscription returns the registered handle for topic, if any.
func (c *Conn) Subscription(topic string) (*Subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[topic]
	return sub, ok
}

// Perform sends an action on topic. Failures are logged, never returned.
func (c *Conn) Perform(topic, action string) {
	cmd := models.Command{Command: models.CommandMessage, Identifier: topic, Data: &models.CommandData{Action: action}}
	if err := c.send(cmd); err != nil {
		log.Printf("realtime perform failed: topic=%s action=%s err=%v", topic, action, err)
	}
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	ws, resp, err := c.opts.Dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, backoff.Permanent(fmt.Errorf("dial %s: status %d: %w", c.url, resp.StatusCode, err))
		}
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(readWait))
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = ws.Close()
		return nil, backoff.Permanent(ErrClosed)
	}
	c.ws = ws
	return ws, nil
}

func (c *Conn) run(ctx context.Context, ws *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		err := c.readLoop(ws)
		c.mu.Lock()
		if c.ws == ws {
			c.ws = nil
		}
		c.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		log.Printf("realtime connection lost: url=%s err=%v", c.url, err)

		ws, err = c.redial(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("realtime reconnect abandoned: url=%s err=%v", c.url, err)
				c.closeAll()
			}
			return
		}
		c.resubscribe()
		if c.opts.OnReconnect != nil {
			c.opts.OnReconnect()
		}
	}
}

func (c *Conn) redial(ctx context.Context) (*websocket.Conn, error) {
	var ws *websocket.Conn
	op := func() error {
		conn, err := c.dial(ctx)
		if err != nil {
			return err
		}
		ws = conn
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Printf("realtime reconnect failed: url=%s retry_in=%s err=%v", c.url, wait, err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(c.opts.Backoff(), ctx), notify); err != nil {
		return nil, err
	}
	return ws, nil
}

func (c *Conn) readLoop(ws *websocket.Conn) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = ws.SetReadDeadline(time.Now().Add(readWait))

		var frame models.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("realtime dropping malformed frame: err=%v", err)
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *Conn) handleFrame(frame models.Frame) {
	switch frame.Type {
	case models.FrameWelcome, models.FramePong:
		return
	case models.FrameConfirmSubscription:
		if sub, ok := c.Subscription(frame.Identifier); ok && sub.State() == StatePending {
			sub.setState(StateConfirmed)
		}
		return
	case models.FrameRejectSubscription:
		c.mu.Lock()
		sub, ok := c.subs[frame.Identifier]
		if ok {
			delete(c.subs, frame.Identifier)
		}
		c.mu.Unlock()
		if ok {
			log.Printf("realtime subscription rejected: topic=%s", frame.Identifier)
			sub.setState(StateRejected)
		}
		return
	case "":
	default:
		log.Printf("realtime dropping unknown frame: type=%q", frame.Type)
		return
	}

	sub, ok := c.Subscription(frame.Identifier)
	if !ok || !sub.Live() {
		return
	}
	event, err := models.DecodeEvent(frame.Message)
	if err != nil {
		log.Printf("realtime dropping event: topic=%s err=%v", frame.Identifier, err)
		return
	}
	sub.deliver(event)
}

func (c *Conn) resubscribe() {
	c.mu.Lock()
	topics := make([]string, 0, len(c.subs))
	for topic, sub := range c.subs {
		if !sub.Live() {
			continue
		}
		sub.setState(StatePending)
		topics = append(topics, topic)
	}
	c.mu.Unlock()

	for _, topic := range topics {
		if err := c.send(models.Command{Command: models.CommandSubscribe, Identifier: topic}); err != nil {
			log.Printf("realtime resubscribe failed: topic=%s err=%v", topic, err)
		}
	}
}

func (c *Conn) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, sub := range c.subs {
		sub.setState(StateClosed)
		delete(c.subs, topic)
	}
}

func (c *Conn) send(cmd models.Command) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(cmd)
}
