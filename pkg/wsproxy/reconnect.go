package wsproxy

import (
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/chainbound/vixy/pkg/node"
	"github.com/chainbound/vixy/pkg/subs"
)

// reconnectResult is the outcome of one reconnection future, delivered
// back to the connection's run loop.
type reconnectResult struct {
	target  node.Upstream
	session *upstreamSession
	err     error
}

// startReconnect spawns the reconnection future for the given target.
// Only one reconnection may be in flight per connection; callers check
// the reconnecting flag first.
func (c *conn) startReconnect(target node.Upstream) {
	if c.reconnecting {
		c.log.Debug("reconnect already in flight, ignoring", "target", target.Name)
		return
	}
	c.reconnecting = true
	c.reconnectFrom = c.currentNode
	// Eagerly adopt the target name so the watcher sees the connection as
	// already moving.
	c.currentNode = target.Name

	c.log.Info("reconnecting to upstream",
		"from", c.reconnectFrom,
		"to", target.Name,
		"subscriptions", c.tracker.Len(),
	)

	go func() {
		session, err := c.dialAndReplay(target)
		c.reconnectCh <- reconnectResult{target: target, session: session, err: err}
	}()
}

// dialAndReplay opens the new upstream connection and re-issues every
// live subscription on it. It runs off the connection's run loop; its
// only shared-state writes go to the tracker (clearing the upstream id
// mappings and inserting replay pendings), which is mutex guarded.
func (c *conn) dialAndReplay(target node.Upstream) (*upstreamSession, error) {
	session, err := c.proxy.dialUpstream(target)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target.WSURL, err)
	}

	// The old upstream's subscription ids are meaningless on the new
	// connection; replay responses re-establish the mappings.
	c.tracker.ClearUpstreamMappings()

	for _, sub := range c.tracker.SnapshotForReplay() {
		c.tracker.AddPending(subs.IDKey(sub.RPCID), subs.Pending{
			Params:              sub.Params,
			IsReplay:            true,
			OriginalClientSubID: sub.ClientSubID,
		})
		request, err := makeSubscribe(sub.RPCID, sub.Params)
		if err != nil {
			session.close()
			return nil, fmt.Errorf("marshal replay subscribe: %w", err)
		}
		if err := session.write(frame{websocket.TextMessage, request}); err != nil {
			session.close()
			return nil, fmt.Errorf("send replay subscribe: %w", err)
		}
	}
	return session, nil
}

// finishReconnect applies the future's outcome on the run loop.
func (c *conn) finishReconnect(res reconnectResult) {
	c.reconnecting = false

	if res.err != nil {
		dropped := len(c.queue)
		c.queue = nil
		c.currentNode = c.reconnectFrom
		c.log.Warn("reconnect failed, staying on current upstream",
			"target", res.target.Name,
			"current", c.currentNode,
			"dropped_frames", dropped,
			"error", res.err,
		)
		if m := c.metrics(); m != nil {
			m.ReconnectFailed()
		}
		return
	}

	// Swap: the old session's remaining frames are dropped with it. The
	// old node's gauge clears before the new node's rises.
	if c.session != nil {
		if m := c.metrics(); m != nil {
			m.UpstreamDisconnected(c.session.name)
		}
		c.session.close()
	}
	c.session = res.session
	if m := c.metrics(); m != nil {
		m.UpstreamConnected(res.target.Name)
		m.ReconnectSucceeded()
	}

	c.log.Info("reconnected to upstream",
		"upstream", res.target.Name,
		"queued_frames", len(c.queue),
	)
	c.drainQueue()
}

// drainQueue forwards frames queued during the reconnection to the new
// upstream, in the order the client sent them.
func (c *conn) drainQueue() {
	queued := c.queue
	c.queue = nil
	for _, f := range queued {
		if c.session == nil {
			// The new upstream already failed; hold the rest for the
			// next attempt.
			c.enqueue(f)
			continue
		}
		c.forwardClientFrame(f)
	}
}
