// Package subs tracks live eth_subscribe subscriptions for one proxied
// WebSocket connection. It maintains the bidirectional mapping between the
// subscription id the client was first handed and whatever id the current
// upstream assigned, plus the roster needed to replay subscriptions on a
// new upstream after reconnection.
package subs

import (
	"bytes"
	"encoding/json"
	"sync"
)

// Record is one live client subscription.
type Record struct {
	// ClientSubID is the opaque id first handed to the client. It never
	// changes for the lifetime of the subscription.
	ClientSubID string

	// RPCID is the JSON-RPC id the client used on its original subscribe
	// request. Kept verbatim (numeric or string) for replay.
	RPCID json.RawMessage

	// Params are the original eth_subscribe arguments, replayed verbatim.
	Params json.RawMessage

	// CurrentUpstreamSubID is the id the present upstream assigned. It
	// equals ClientSubID until the first reconnection.
	CurrentUpstreamSubID string
}

// Pending is a subscribe request that is in flight to the upstream, keyed
// by its JSON-RPC id.
type Pending struct {
	Params json.RawMessage

	// IsReplay marks subscribes issued by the reconnection procedure.
	// Their responses must not reach the client.
	IsReplay bool

	// OriginalClientSubID is set iff IsReplay.
	OriginalClientSubID string
}

// Tracker is the per-connection subscription registry. The connection's
// main loop is the dominant accessor; the reconnection procedure inserts
// replay pendings from its own goroutine, so all access is mutex guarded.
type Tracker struct {
	mu sync.Mutex

	// subs is keyed by client subscription id; order preserves insertion
	// so replay is deterministic.
	subs  map[string]*Record
	order []string

	// upstream maps the current upstream's subscription ids to client ids.
	upstream map[string]string

	// pending is keyed by the JSON-RPC id of the in-flight subscribe.
	pending map[string]Pending
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		subs:     make(map[string]*Record),
		upstream: make(map[string]string),
		pending:  make(map[string]Pending),
	}
}

// IDKey canonicalizes a JSON-RPC id for use as a map key. Ids are opaque:
// a numeric 7 and a string "7" are distinct keys.
func IDKey(id json.RawMessage) string {
	return string(bytes.TrimSpace(id))
}

// TrackNew records a new subscription whose client id equals its first
// upstream id. Idempotent for an already-tracked client id.
func (t *Tracker) TrackNew(clientSubID string, rpcID, params json.RawMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[clientSubID]; ok {
		return
	}
	t.subs[clientSubID] = &Record{
		ClientSubID:          clientSubID,
		RPCID:                rpcID,
		Params:               params,
		CurrentUpstreamSubID: clientSubID,
	}
	t.order = append(t.order, clientSubID)
	t.upstream[clientSubID] = clientSubID
}

// MapUpstreamID records that the current upstream now serves the existing
// subscription under a new id. Used when a replayed subscribe responds.
func (t *Tracker) MapUpstreamID(upstreamSubID, clientSubID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.subs[clientSubID]
	if !ok {
		return
	}
	rec.CurrentUpstreamSubID = upstreamSubID
	t.upstream[upstreamSubID] = clientSubID
}

// TranslateToClient resolves an upstream subscription id to the stable
// client-facing id. The second return is false for unknown ids.
func (t *Tracker) TranslateToClient(upstreamSubID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	clientID, ok := t.upstream[upstreamSubID]
	return clientID, ok
}

// RewriteUnsubscribeParam resolves a client subscription id to the id the
// current upstream knows it by, for rewriting eth_unsubscribe params.
func (t *Tracker) RewriteUnsubscribeParam(clientSubID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.subs[clientSubID]
	if !ok {
		return "", false
	}
	return rec.CurrentUpstreamSubID, true
}

// Remove deletes a subscription and its upstream mapping.
func (t *Tracker) Remove(clientSubID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.subs[clientSubID]
	if !ok {
		return
	}
	delete(t.upstream, rec.CurrentUpstreamSubID)
	delete(t.subs, clientSubID)
	for i, id := range t.order {
		if id == clientSubID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// SnapshotForReplay returns copies of every live subscription in insertion
// order.
func (t *Tracker) SnapshotForReplay() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.subs[id])
	}
	return out
}

// ClearUpstreamMappings wipes every upstream id mapping. The subscriptions
// themselves survive; replay re-establishes the mappings on the new
// upstream.
func (t *Tracker) ClearUpstreamMappings() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.upstream = make(map[string]string)
}

// Len reports the number of live subscriptions.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// AddPending records an in-flight subscribe keyed by its JSON-RPC id.
func (t *Tracker) AddPending(idKey string, p Pending) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[idKey] = p
}

// TakePending removes and returns the pending subscribe with the given id
// key, if any.
func (t *Tracker) TakePending(idKey string) (Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[idKey]
	if ok {
		delete(t.pending, idKey)
	}
	return p, ok
}

// PendingCount reports the number of in-flight subscribes.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
