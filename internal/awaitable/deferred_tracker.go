package awaitable

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/brypt-mesh/node/internal/identifier"
	"github.com/brypt-mesh/node/internal/message"
)

// ResponseSink is the minimal peer.Proxy capability a DeferredTracker
// needs: sending the assembled aggregate response back to whoever made
// the original cluster request.
type ResponseSink interface {
	SendResponse(parcel message.ApplicationParcel) error
}

// DeferredTracker aggregates one response per identifier in a cluster
// broadcast, then ships a single aggregate reply to the requestor, per
// original_source's DeferredTracker. Like RequestTracker, its own mutex
// guards status/ledger/responses against the service's unlocked Fulfill.
type DeferredTracker struct {
	mu        sync.Mutex
	key       Key
	requestor ResponseSink
	request   message.ApplicationParcel
	expire    time.Time

	expected int
	received int
	status   Status

	ledger    map[identifier.ID]bool
	responses map[string]json.RawMessage
}

// NewDeferredTracker builds a tracker expecting one response from each of
// identifiers (the original requestor is excluded by the caller).
func NewDeferredTracker(key Key, requestor ResponseSink, request message.ApplicationParcel, identifiers []identifier.ID, expire time.Time) *DeferredTracker {
	ledger := make(map[identifier.ID]bool, len(identifiers))
	for _, id := range identifiers {
		ledger[id] = false
	}
	return &DeferredTracker{
		key:       key,
		requestor: requestor,
		request:   request,
		expire:    expire,
		expected:  len(identifiers),
		status:    StatusPending,
		ledger:    ledger,
		responses: make(map[string]json.RawMessage, len(identifiers)),
	}
}

func (t *DeferredTracker) Key() Key      { return t.key }
func (t *DeferredTracker) Expected() int { return t.expected }

func (t *DeferredTracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *DeferredTracker) Received() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.received
}

func (t *DeferredTracker) Correlate(id identifier.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ledger[id]
	return ok
}

// CheckStatus promotes Pending to Fulfilled when all identifiers have
// responded or the deadline has passed. A deadline promotion completes
// the tracker with whatever subset of responses arrived, carried over
// from the original implementation's behavior.
func (t *DeferredTracker) CheckStatus(now time.Time) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusPending && (t.received >= t.expected || !now.Before(t.expire)) {
		t.status = StatusFulfilled
	}
	return t.status
}

func (t *DeferredTracker) UpdateParcel(source identifier.ID, parcel message.ApplicationParcel) UpdateResult {
	return t.UpdatePayload(source, parcel.Payload)
}

func (t *DeferredTracker) UpdatePayload(source identifier.ID, payload []byte) UpdateResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusPending {
		return ResultUnexpected
	}
	responded, known := t.ledger[source]
	if !known || responded {
		return ResultUnexpected
	}
	t.ledger[source] = true
	t.received++
	if len(payload) == 0 {
		payload = []byte("null")
	}
	t.responses[source.String()] = json.RawMessage(payload)
	if t.received >= t.expected {
		return ResultFulfilled
	}
	return ResultPartial
}

// Fulfill assembles {identifier: payload} for every response received so
// far and sends it as a single aggregate parcel to the requestor.
// Subsequent calls are no-ops: the tracker only ever sends once. The
// state transition happens under the tracker lock; the send runs outside
// it.
func (t *DeferredTracker) Fulfill() bool {
	t.mu.Lock()
	if t.status == StatusCompleted {
		t.mu.Unlock()
		return false
	}
	aggregate, err := json.Marshal(t.responses)
	t.status = StatusCompleted
	t.mu.Unlock()
	if err != nil {
		return false
	}

	reply := message.ApplicationParcel{
		Header:  t.request.Header,
		Route:   t.request.Route,
		Payload: aggregate,
		Extensions: []message.Extension{
			message.Awaitable{Binding: message.BindingResponse, Key: t.key},
		},
	}
	if t.requestor != nil {
		_ = t.requestor.SendResponse(reply)
	}
	return true
}
