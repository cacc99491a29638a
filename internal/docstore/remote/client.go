package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/five82/backdrop/internal/docstore"
)

const (
	defaultReconnectBase = 500 * time.Millisecond
	maxBackoff           = 30 * time.Second
)

// calculateBackoff doubles base per consecutive failure, capped at maxBackoff.
func calculateBackoff(failures int, base time.Duration) time.Duration {
	if failures <= 0 {
		return base
	}
	if failures > 16 {
		return maxBackoff
	}
	d := base << failures
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

// ClientOptions configure Dial.
type ClientOptions struct {
	Logger logrus.FieldLogger
	// ReconnectBase is the first retry delay after the connection drops.
	ReconnectBase time.Duration
	Header        http.Header
}

// Client is a docstore.Store served by a remote Server. Watches survive
// reconnects: they are re-established and resume with the current document.
// Requests made while offline fail fast with ErrDisconnected.
type Client struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	log    logrus.FieldLogger
	base   time.Duration
	nextID atomic.Uint64

	writeMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	pending   map[uint64]chan frame
	watches   map[uint64]*docstore.Watch

	done chan struct{}
	wg   sync.WaitGroup
}

var _ docstore.Store = (*Client)(nil)

// Dial connects to url (ws:// or wss://). The first connection must succeed;
// later drops are retried in the background until Close.
func Dial(ctx context.Context, url string, opts ClientOptions) (*Client, error) {
	log := opts.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	base := opts.ReconnectBase
	if base <= 0 {
		base = defaultReconnectBase
	}
	c := &Client{
		url:     url,
		header:  opts.Header,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:     log.WithField("component", "docstore-client"),
		base:    base,
		pending: make(map[uint64]chan frame),
		watches: make(map[uint64]*docstore.Watch),
		done:    make(chan struct{}),
	}

	conn, _, err := c.dialer.DialContext(ctx, url, c.header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c.attach(conn)
	c.wg.Add(1)
	go c.run(conn)
	return c, nil
}

// Connected reports whether a live connection is currently attached.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
}

// run owns the read side of each connection and reconnects after drops.
func (c *Client) run(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		c.read(conn)
		c.detach(conn)

		conn = c.reconnect()
		if conn == nil {
			return
		}
		c.attach(conn)
		c.resubscribe()
	}
}

func (c *Client) read(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			select {
			case <-c.done:
			default:
				c.log.WithError(err).Warn("connection lost")
			}
			return
		}
		switch f.Type {
		case frameReply:
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			if ok {
				ch <- f
			}
		case frameSnapshot:
			c.mu.Lock()
			w := c.watches[f.WatchID]
			c.mu.Unlock()
			if w != nil && f.Doc != nil {
				w.Offer(*f.Doc)
			}
		}
	}
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	c.connected = false
	c.conn = nil
	for id, ch := range c.pending {
		ch <- frame{Type: frameReply, ID: id, Code: codeDisconnected, Error: ErrDisconnected.Error()}
		delete(c.pending, id)
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) reconnect() *websocket.Conn {
	failures := 0
	for {
		delay := calculateBackoff(failures, c.base)
		select {
		case <-c.done:
			return nil
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
		cancel()
		if err == nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed {
				_ = conn.Close()
				return nil
			}
			c.log.WithField("attempts", failures+1).Info("reconnected")
			return conn
		}
		failures++
		c.log.WithError(err).WithField("retry_in", calculateBackoff(failures, c.base)).Debug("reconnect failed")
	}
}

func (c *Client) resubscribe() {
	c.mu.Lock()
	ids := make(map[uint64]docstore.Key, len(c.watches))
	for id, w := range c.watches {
		ids[id] = w.Key()
	}
	c.mu.Unlock()

	for id, key := range ids {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := c.request(ctx, frame{Type: frameWatch, WatchID: id, Key: key})
		cancel()
		if err != nil {
			c.log.WithError(err).WithField("key", key.String()).Warn("resubscribe failed")
		}
	}
}

func (c *Client) request(ctx context.Context, f frame) (frame, error) {
	f.ID = c.nextID.Add(1)
	ch := make(chan frame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return frame{}, docstore.ErrClosed
	}
	if !c.connected {
		c.mu.Unlock()
		return frame{}, ErrDisconnected
	}
	conn := c.conn
	c.pending[f.ID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteJSON(f)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(f.ID)
		_ = conn.Close()
		return frame{}, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	select {
	case reply := <-ch:
		return reply, replyError(reply)
	case <-ctx.Done():
		c.forget(f.ID)
		return frame{}, ctx.Err()
	case <-c.done:
		return frame{}, docstore.ErrClosed
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Get implements docstore.Store.
func (c *Client) Get(ctx context.Context, key docstore.Key) (docstore.Document, error) {
	reply, err := c.request(ctx, frame{Type: frameGet, Key: key})
	if err != nil {
		return docstore.Document{}, err
	}
	if reply.Doc == nil {
		return docstore.Document{}, errors.New("remote get: reply carried no document")
	}
	return *reply.Doc, nil
}

// Create implements docstore.Store.
func (c *Client) Create(ctx context.Context, key docstore.Key, fields docstore.Fields) (docstore.Key, error) {
	reply, err := c.request(ctx, frame{Type: frameCreate, Key: key, Fields: fields})
	if err != nil {
		return docstore.Key{}, err
	}
	return reply.Key, nil
}

// Set implements docstore.Store.
func (c *Client) Set(ctx context.Context, key docstore.Key, fields docstore.Fields) error {
	_, err := c.request(ctx, frame{Type: frameSet, Key: key, Fields: fields})
	return err
}

// Update implements docstore.Store.
func (c *Client) Update(ctx context.Context, key docstore.Key, ops ...docstore.Op) error {
	_, err := c.request(ctx, frame{Type: frameUpdate, Key: key, Ops: ops})
	return err
}

// Delete implements docstore.Store.
func (c *Client) Delete(ctx context.Context, key docstore.Key) error {
	_, err := c.request(ctx, frame{Type: frameDelete, Key: key})
	return err
}

// Watch implements docstore.Store. While offline the watch is kept and
// subscribed once the connection returns.
func (c *Client) Watch(ctx context.Context, key docstore.Key) (*docstore.Watch, error) {
	if err := key.Validate(false); err != nil {
		return nil, err
	}
	id := c.nextID.Add(1)
	w := docstore.NewWatch(key, func() { c.unwatch(id, key) })

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, docstore.ErrClosed
	}
	c.watches[id] = w
	c.mu.Unlock()

	if _, err := c.request(ctx, frame{Type: frameWatch, WatchID: id, Key: key}); err != nil && !errors.Is(err, ErrDisconnected) {
		w.Stop()
		return nil, err
	}
	w.Bind(ctx)
	return w, nil
}

func (c *Client) unwatch(id uint64, key docstore.Key) {
	c.mu.Lock()
	_, ok := c.watches[id]
	delete(c.watches, id)
	c.mu.Unlock()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if _, err := c.request(ctx, frame{Type: frameUnwatch, WatchID: id, Key: key}); err != nil &&
		!errors.Is(err, ErrDisconnected) && !errors.Is(err, docstore.ErrClosed) {
		c.log.WithError(err).WithField("key", key.String()).Debug("unwatch failed")
	}
}

// Watchers returns the number of live watches.
func (c *Client) Watchers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.watches)
}

// Close stops all watches, closes the connection and halts reconnects.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	watches := make([]*docstore.Watch, 0, len(c.watches))
	for id, w := range c.watches {
		watches = append(watches, w)
		delete(c.watches, id)
	}
	c.mu.Unlock()

	for _, w := range watches {
		w.Stop()
	}
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	c.wg.Wait()
	return nil
}
