// Package wsproxy implements the EL WebSocket proxy: a per-client duplex
// pipe with health-driven upstream reconnection, subscription replay and
// subscription-id translation. A client keeps its connection and its
// subscription ids across upstream failovers, and frames it sends while a
// reconnection is in flight are queued for the new upstream. Responses
// the old upstream had not yet delivered at the swap are dropped.
package wsproxy

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chainbound/vixy/pkg/node"
	"github.com/chainbound/vixy/pkg/selection"
	"github.com/chainbound/vixy/pkg/telemetry/metrics"
)

const (
	// writeWait bounds a single WebSocket write on either leg.
	writeWait = 10 * time.Second

	// defaultWatchInterval is how often the watcher re-evaluates the best
	// upstream for an open connection.
	defaultWatchInterval = time.Second
)

// Proxy accepts client WebSocket connections and pipes them to the
// currently best EL upstream. One connection state machine (conn) exists
// per accepted client.
type Proxy struct {
	topo    *node.Topology
	state   *node.State
	metrics *metrics.Collector

	// queueSize bounds the per-connection queue of client frames held
	// while a reconnection is in flight.
	queueSize int

	// watchInterval is overridable by tests; defaults to one second.
	watchInterval time.Duration

	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
}

// New creates a WebSocket proxy. The collector may be nil when metrics
// are disabled.
func New(topo *node.Topology, state *node.State, collector *metrics.Collector, queueSize int) *Proxy {
	return &Proxy{
		topo:          topo,
		state:         state,
		metrics:       collector,
		queueSize:     queueSize,
		watchInterval: defaultWatchInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The proxy is origin-agnostic; clients are trusted network
			// peers, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// ServeHTTP upgrades the client connection and runs the proxy state
// machine until either side closes. If no healthy WS-capable EL upstream
// exists, the upgrade is refused with 503.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, ok := selection.ELWS(p.topo, p.state)
	if !ok {
		http.Error(w, "no healthy EL upstream available", http.StatusServiceUnavailable)
		return
	}

	// Dial the upstream before upgrading so a dial failure can still be
	// answered with a plain HTTP status.
	session, err := p.dialUpstream(target)
	if err != nil {
		slog.Warn("upstream dial failed", "node", target.Name, "url", target.WSURL, "error", err)
		http.Error(w, "failed to connect to EL upstream", http.StatusBadGateway)
		return
	}

	clientConn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		session.close()
		return
	}

	c := &conn{
		id:          uuid.NewString(),
		proxy:       p,
		client:      clientConn,
		session:     session,
		currentNode: target.Name,
	}
	c.run(r.Context())
}

// upstreamSession is one dialed upstream connection plus its reader task.
// The reader pushes frames into the frames channel and closes it on read
// error; closing done releases the reader if the main loop abandons the
// session first.
type upstreamSession struct {
	name   string
	conn   *websocket.Conn
	frames chan frame
	done   chan struct{}
}

// frame is one WebSocket message.
type frame struct {
	messageType int
	data        []byte
}

// dialUpstream opens a WebSocket connection to the upstream and starts
// its reader task.
func (p *Proxy) dialUpstream(target node.Upstream) (*upstreamSession, error) {
	wsConn, resp, err := p.dialer.Dial(target.WSURL, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, err
	}

	s := &upstreamSession{
		name:   target.Name,
		conn:   wsConn,
		frames: make(chan frame, 64),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *upstreamSession) readLoop() {
	defer close(s.frames)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case s.frames <- frame{messageType, data}:
		case <-s.done:
			return
		}
	}
}

// write sends one frame to the upstream under the write deadline.
func (s *upstreamSession) write(f frame) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(f.messageType, f.data)
}

// close releases the session: the reader unblocks and the socket closes.
func (s *upstreamSession) close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.conn.Close()
}
