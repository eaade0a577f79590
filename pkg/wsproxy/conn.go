package wsproxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chainbound/vixy/pkg/selection"
	"github.com/chainbound/vixy/pkg/subs"
	"github.com/chainbound/vixy/pkg/telemetry/metrics"
)

// conn is the state machine of one proxied client connection. Its run
// loop is the only writer of the connection's mutable state: the current
// upstream session, the reconnecting flag and the client-frame queue.
// The client reader, the upstream reader and the reconnection future are
// separate tasks that communicate with the loop over channels.
type conn struct {
	id    string
	proxy *Proxy

	client       *websocket.Conn
	clientFrames chan frame

	// session is the current upstream; nil after the upstream dropped and
	// before a replacement connected.
	session *upstreamSession

	// currentNode is eagerly set to the reconnect target so the watcher
	// does not re-trigger while an attempt is in flight; it reverts on
	// failure.
	currentNode string

	tracker *subs.Tracker

	// pendingUnsubs maps in-flight eth_unsubscribe request ids to the
	// client subscription id being cancelled.
	pendingUnsubs map[string]string

	reconnecting  bool
	reconnectFrom string
	reconnectCh   chan reconnectResult

	// queue holds client frames received while no upstream can take them.
	queue []frame

	done chan struct{}
	log  *slog.Logger
}

// run drives the connection until the client disconnects, a fatal client
// write fails, or the context is cancelled.
func (c *conn) run(ctx context.Context) {
	c.clientFrames = make(chan frame, 64)
	c.tracker = subs.NewTracker()
	c.pendingUnsubs = make(map[string]string)
	c.reconnectCh = make(chan reconnectResult, 1)
	c.done = make(chan struct{})
	c.log = slog.With("conn", c.id)

	if m := c.metrics(); m != nil {
		m.ConnectionOpened()
		m.UpstreamConnected(c.currentNode)
	}
	c.log.Info("client connected", "upstream", c.currentNode)

	go c.clientReadLoop()
	defer c.teardown()

	watch := time.NewTicker(c.proxy.watchInterval)
	defer watch.Stop()

	for {
		// A nil channel blocks forever, parking the upstream branch
		// while no upstream is connected.
		var upstreamFrames chan frame
		if c.session != nil {
			upstreamFrames = c.session.frames
		}

		select {
		case <-ctx.Done():
			return

		case f, ok := <-c.clientFrames:
			if !ok {
				c.log.Debug("client closed")
				return
			}
			c.handleClientFrame(f)

		case f, ok := <-upstreamFrames:
			if !ok {
				c.handleUpstreamLoss()
				continue
			}
			if !c.handleUpstreamFrame(f) {
				return
			}

		case <-watch.C:
			c.checkBestUpstream()

		case res := <-c.reconnectCh:
			c.finishReconnect(res)
		}
	}
}

// clientReadLoop reads frames from the client socket into the loop.
func (c *conn) clientReadLoop() {
	defer close(c.clientFrames)
	for {
		messageType, data, err := c.client.ReadMessage()
		if err != nil {
			return
		}
		select {
		case c.clientFrames <- frame{messageType, data}:
		case <-c.done:
			return
		}
	}
}

// handleClientFrame forwards or queues one client frame.
func (c *conn) handleClientFrame(f frame) {
	if m := c.metrics(); m != nil {
		m.Message(metrics.DirectionClientToUpstream)
	}

	// With no usable upstream the frame waits in the bounded queue; it is
	// drained in order once a reconnection completes.
	if c.reconnecting || c.session == nil {
		c.enqueue(f)
		return
	}
	c.forwardClientFrame(f)
}

// forwardClientFrame classifies and sends one client frame to the current
// upstream.
func (c *conn) forwardClientFrame(f frame) {
	if f.messageType != websocket.TextMessage {
		c.writeUpstream(f)
		return
	}

	msg, ok := parseRPC(f.data)
	if !ok {
		// Non-JSON text is forwarded opaque.
		c.writeUpstream(f)
		return
	}

	switch msg.Method {
	case "eth_subscribe":
		if len(msg.ID) > 0 {
			c.tracker.AddPending(subs.IDKey(msg.ID), subs.Pending{Params: msg.Params})
		}
		c.writeUpstream(f)

	case "eth_unsubscribe":
		clientSubID, ok := firstParamString(msg.Params)
		if !ok {
			c.writeUpstream(f)
			return
		}
		upstreamSubID, tracked := c.tracker.RewriteUnsubscribeParam(clientSubID)
		if !tracked {
			c.writeUpstream(f)
			return
		}
		rewritten, err := makeUnsubscribe(msg.ID, upstreamSubID)
		if err != nil {
			c.writeUpstream(f)
			return
		}
		if len(msg.ID) > 0 {
			c.pendingUnsubs[subs.IDKey(msg.ID)] = clientSubID
		}
		c.writeUpstream(frame{websocket.TextMessage, rewritten})

	default:
		c.writeUpstream(f)
	}
}

// handleUpstreamFrame classifies and forwards one upstream frame to the
// client. It returns false on a fatal client write error.
func (c *conn) handleUpstreamFrame(f frame) bool {
	if m := c.metrics(); m != nil {
		m.Message(metrics.DirectionUpstreamToClient)
	}

	if f.messageType != websocket.TextMessage {
		return c.writeClient(f)
	}
	msg, ok := parseRPC(f.data)
	if !ok {
		return c.writeClient(f)
	}

	// Case A: subscription notification; translate the upstream id to the
	// stable client-facing id.
	if msg.Method == "eth_subscription" {
		return c.forwardNotification(f, msg)
	}

	// Case B: response to an in-flight subscribe.
	if len(msg.ID) > 0 {
		if pending, ok := c.tracker.TakePending(subs.IDKey(msg.ID)); ok {
			return c.handleSubscribeResponse(f, msg, pending)
		}
		if clientSubID, ok := c.pendingUnsubs[subs.IDKey(msg.ID)]; ok {
			delete(c.pendingUnsubs, subs.IDKey(msg.ID))
			c.tracker.Remove(clientSubID)
			if m := c.metrics(); m != nil {
				m.SubscriptionRemoved(1)
			}
		}
	}

	// Case C: everything else is forwarded verbatim.
	return c.writeClient(f)
}

func (c *conn) forwardNotification(f frame, msg *rpcMessage) bool {
	var params subscriptionParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.Subscription == "" {
		return c.writeClient(f)
	}

	clientSubID, ok := c.tracker.TranslateToClient(params.Subscription)
	if !ok {
		// The subscription was cancelled, or the notification raced the
		// replay registration.
		c.log.Debug("dropping notification for unknown subscription",
			"upstream_sub_id", params.Subscription)
		return true
	}
	if clientSubID == params.Subscription {
		return c.writeClient(f)
	}

	translated, err := makeNotification(clientSubID, params.Result)
	if err != nil {
		return c.writeClient(f)
	}
	return c.writeClient(frame{websocket.TextMessage, translated})
}

// handleSubscribeResponse consumes the upstream response to a pending
// eth_subscribe. New subscriptions are forwarded so the client learns its
// id; replayed ones are absorbed, keeping reconnection invisible.
func (c *conn) handleSubscribeResponse(f frame, msg *rpcMessage, pending subs.Pending) bool {
	upstreamSubID, ok := resultString(msg.Result)
	if !ok {
		// The subscribe failed upstream. The client sees its own
		// request's error; a replay failure is absorbed.
		if pending.IsReplay {
			c.log.Warn("subscription replay rejected by upstream",
				"client_sub_id", pending.OriginalClientSubID)
			return true
		}
		return c.writeClient(f)
	}

	if pending.IsReplay {
		c.tracker.MapUpstreamID(upstreamSubID, pending.OriginalClientSubID)
		c.log.Debug("subscription replayed",
			"client_sub_id", pending.OriginalClientSubID,
			"upstream_sub_id", upstreamSubID)
		return true
	}

	c.tracker.TrackNew(upstreamSubID, msg.ID, pending.Params)
	if m := c.metrics(); m != nil {
		m.SubscriptionEstablished()
	}
	c.log.Debug("subscription established", "client_sub_id", upstreamSubID)
	return c.writeClient(f)
}

// checkBestUpstream is the watcher: when the best WS-capable node differs
// from the current one (or the current upstream is gone), it starts a
// reconnection.
func (c *conn) checkBestUpstream() {
	if c.reconnecting {
		return
	}
	best, ok := selection.ELWS(c.proxy.topo, c.proxy.state)
	if !ok {
		return
	}
	if c.session != nil && best.Name == c.currentNode {
		return
	}
	c.startReconnect(best)
}

// handleUpstreamLoss reacts to the upstream reader terminating.
func (c *conn) handleUpstreamLoss() {
	if c.session == nil {
		return
	}
	lost := c.session.name
	c.log.Warn("upstream connection lost", "upstream", lost)
	c.session.close()
	c.session = nil
	if m := c.metrics(); m != nil {
		m.UpstreamDisconnected(lost)
	}
	// An in-flight reconnection will complete the swap; otherwise try to
	// move immediately rather than waiting for the watcher tick.
	if c.reconnecting {
		c.reconnectFrom = ""
		return
	}
	if best, ok := selection.ELWS(c.proxy.topo, c.proxy.state); ok {
		c.startReconnect(best)
	}
}

// enqueue appends a client frame to the bounded reconnection queue,
// dropping with a warning when the bound is reached.
func (c *conn) enqueue(f frame) {
	if len(c.queue) >= c.proxy.queueSize {
		c.log.Warn("reconnect queue full, dropping client frame",
			"queue_size", c.proxy.queueSize)
		return
	}
	c.queue = append(c.queue, f)
}

// writeUpstream sends a frame to the current upstream. A failed write is
// not fatal: the reader observes the same failure and drives the loss
// path, and the frame is preserved for the next upstream.
func (c *conn) writeUpstream(f frame) {
	if err := c.session.write(f); err != nil {
		c.log.Debug("upstream write failed", "error", err)
		c.enqueue(f)
	}
}

// writeClient sends a frame to the client. A client write failure is
// fatal to the connection.
func (c *conn) writeClient(f frame) bool {
	c.client.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.client.WriteMessage(f.messageType, f.data); err != nil {
		c.log.Warn("client write failed", "error", err)
		return false
	}
	return true
}

func (c *conn) metrics() *metrics.WSMetrics {
	if c.proxy.metrics == nil {
		return nil
	}
	return c.proxy.metrics.WS
}

// teardown closes both legs and settles the gauges. An in-flight
// reconnection future is allowed to complete; its session is closed when
// the result arrives.
func (c *conn) teardown() {
	close(c.done)
	c.client.Close()
	if c.reconnecting {
		go func() {
			if res := <-c.reconnectCh; res.session != nil {
				res.session.close()
			}
		}()
	}
	if c.session != nil {
		if m := c.metrics(); m != nil {
			m.UpstreamDisconnected(c.session.name)
		}
		c.session.close()
		c.session = nil
	}
	if m := c.metrics(); m != nil {
		m.ConnectionClosed()
		if n := c.tracker.Len(); n > 0 {
			m.SubscriptionRemoved(n)
		}
	}
	c.log.Info("client disconnected")
}
