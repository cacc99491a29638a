package remote

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/five82/backdrop/internal/docstore"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 64
)

// Server exposes a docstore.Store to websocket clients.
type Server struct {
	store    docstore.Store
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
	metrics  *metrics

	mu     sync.Mutex
	conns  map[*serverConn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// ServerOptions configure NewServer.
type ServerOptions struct {
	Logger     logrus.FieldLogger
	Registerer prometheus.Registerer
}

type metrics struct {
	requests    *prometheus.CounterVec
	watches     prometheus.Gauge
	connections prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "backdrop",
			Subsystem: "docstore",
			Name:      "requests_total",
			Help:      "Document store requests handled, by operation and result code.",
		}, []string{"op", "code"}),
		watches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "backdrop",
			Subsystem: "docstore",
			Name:      "active_watches",
			Help:      "Document watches currently served.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "backdrop",
			Subsystem: "docstore",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.watches, m.connections)
	}
	return m
}

// NewServer builds a Server around store.
func NewServer(store docstore.Store, opts ServerOptions) *Server {
	log := opts.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	return &Server{
		store: store,
		log:   log.WithField("component", "docstore-server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		metrics: newMetrics(opts.Registerer),
		conns:   make(map[*serverConn]struct{}),
	}
}

// Close drops every connection and refuses new ones. The store is left open.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*serverConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.cancel()
		_ = c.ws.Close()
	}
	s.wg.Wait()
}

// ServeHTTP upgrades the request and serves frames until the peer leaves.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, "server closing", http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &serverConn{
		server:  s,
		ws:      ws,
		send:    make(chan frame, sendBuffer),
		ctx:     ctx,
		cancel:  cancel,
		watches: make(map[uint64]*docstore.Watch),
		log:     s.log.WithField("remote", r.RemoteAddr),
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		_ = ws.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		s.wg.Done()
	}()

	s.metrics.connections.Inc()
	c.log.Info("client connected")

	go c.writePump()
	c.readPump()
}

type serverConn struct {
	server *Server
	ws     *websocket.Conn
	send   chan frame
	ctx    context.Context
	cancel context.CancelFunc
	log    logrus.FieldLogger

	mu      sync.Mutex
	watches map[uint64]*docstore.Watch
	wg      sync.WaitGroup
}

func (c *serverConn) readPump() {
	defer func() {
		c.cancel()
		c.mu.Lock()
		watches := make([]*docstore.Watch, 0, len(c.watches))
		for id, w := range c.watches {
			watches = append(watches, w)
			delete(c.watches, id)
		}
		c.mu.Unlock()
		for _, w := range watches {
			w.Stop()
		}
		c.wg.Wait()
		_ = c.ws.Close()
		c.server.metrics.connections.Dec()
		c.log.Info("client disconnected")
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.WithError(err).Debug("read failed")
			}
			return
		}
		switch f.Type {
		case frameWatch:
			c.watch(f)
		case frameUnwatch:
			c.unwatch(f)
		default:
			c.wg.Add(1)
			go func(f frame) {
				defer c.wg.Done()
				c.handle(f)
			}(f)
		}
	}
}

func (c *serverConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case <-c.ctx.Done():
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case f := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(f); err != nil {
				c.log.WithError(err).Debug("write failed")
				c.cancel()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (c *serverConn) push(f frame) {
	select {
	case c.send <- f:
	case <-c.ctx.Done():
	}
}

func (c *serverConn) reply(req frame, doc *docstore.Document, key docstore.Key, err error) {
	code := errorCode(err)
	if code == "" {
		code = "ok"
	}
	c.server.metrics.requests.WithLabelValues(req.Type, code).Inc()
	out := frame{Type: frameReply, ID: req.ID, Key: key, Doc: doc}
	if err != nil {
		out.Code = errorCode(err)
		out.Error = err.Error()
	}
	c.push(out)
}

func (c *serverConn) handle(f frame) {
	store := c.server.store
	switch f.Type {
	case frameGet:
		doc, err := store.Get(c.ctx, f.Key)
		if err != nil {
			c.reply(f, nil, f.Key, err)
			return
		}
		c.reply(f, &doc, f.Key, nil)
	case frameCreate:
		key, err := store.Create(c.ctx, f.Key, f.Fields)
		c.reply(f, nil, key, err)
	case frameSet:
		c.reply(f, nil, f.Key, store.Set(c.ctx, f.Key, f.Fields))
	case frameUpdate:
		c.reply(f, nil, f.Key, store.Update(c.ctx, f.Key, f.Ops...))
	case frameDelete:
		c.reply(f, nil, f.Key, store.Delete(c.ctx, f.Key))
	default:
		c.server.metrics.requests.WithLabelValues(f.Type, codeInvalid).Inc()
		c.push(frame{Type: frameReply, ID: f.ID, Code: codeInvalid, Error: "unknown frame type " + f.Type})
	}
}

func (c *serverConn) watch(f frame) {
	w, err := c.server.store.Watch(c.ctx, f.Key)
	if err != nil {
		c.reply(f, nil, f.Key, err)
		return
	}

	c.mu.Lock()
	if prev, ok := c.watches[f.WatchID]; ok {
		c.mu.Unlock()
		prev.Stop()
		c.mu.Lock()
	}
	c.watches[f.WatchID] = w
	c.mu.Unlock()
	c.server.metrics.watches.Inc()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.server.metrics.watches.Dec()
		for doc := range w.C() {
			doc := doc
			c.push(frame{Type: frameSnapshot, WatchID: f.WatchID, Key: f.Key, Doc: &doc})
		}
	}()
	c.reply(f, nil, f.Key, nil)
}

func (c *serverConn) unwatch(f frame) {
	c.mu.Lock()
	w, ok := c.watches[f.WatchID]
	delete(c.watches, f.WatchID)
	c.mu.Unlock()
	if ok {
		w.Stop()
	}
	c.reply(f, nil, f.Key, nil)
}
