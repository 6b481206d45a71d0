package awaitable

import (
	"sync"
	"time"

	"github.com/brypt-mesh/node/internal/identifier"
	"github.com/brypt-mesh/node/internal/message"
)

// Tracker is the common contract both request and deferred trackers
// satisfy, per original_source's ITracker.
type Tracker interface {
	Key() Key
	Status() Status
	CheckStatus(now time.Time) Status
	Expected() int
	Received() int
	Correlate(id identifier.ID) bool
	UpdateParcel(source identifier.ID, parcel message.ApplicationParcel) UpdateResult
	UpdatePayload(source identifier.ID, payload []byte) UpdateResult
	// Fulfill runs the tracker's completion behavior (dispatching
	// callbacks or assembling an aggregate response) and reports whether
	// it fully completed.
	Fulfill() bool
}

// RequestTracker correlates a single- or multi-peer request with its
// response(s), per original_source's RequestTracker. Its own mutex guards
// status/ledger/responses, since the service's Execute sweep fulfills
// trackers without holding the service lock (fulfillment callbacks may
// re-enter the service to stage follow-up requests).
type RequestTracker struct {
	mu       sync.Mutex
	key      Key
	expected int
	received int
	status   Status
	expire   time.Time

	ledger    map[identifier.ID]bool // identifier -> responded
	responses []requestResponse

	onResponse OnResponse
	onError    OnError
}

type requestResponse struct {
	source identifier.ID
	parcel message.ApplicationParcel
}

// NewRequestTracker builds a tracker expecting exactly one response from
// each of identifiers.
func NewRequestTracker(key Key, identifiers []identifier.ID, expire time.Time, onResponse OnResponse, onError OnError) *RequestTracker {
	ledger := make(map[identifier.ID]bool, len(identifiers))
	for _, id := range identifiers {
		ledger[id] = false
	}
	return &RequestTracker{
		key:        key,
		expected:   len(identifiers),
		status:     StatusPending,
		expire:     expire,
		ledger:     ledger,
		onResponse: onResponse,
		onError:    onError,
	}
}

func (t *RequestTracker) Key() Key      { return t.key }
func (t *RequestTracker) Expected() int { return t.expected }

func (t *RequestTracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *RequestTracker) Received() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.received
}

func (t *RequestTracker) Correlate(id identifier.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ledger[id]
	return ok
}

// CheckStatus promotes Pending to Fulfilled once every expected response
// has arrived, or once the deadline has passed.
func (t *RequestTracker) CheckStatus(now time.Time) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusPending && (t.received >= t.expected || !now.Before(t.expire)) {
		t.status = StatusFulfilled
	}
	return t.status
}

func (t *RequestTracker) UpdateParcel(source identifier.ID, parcel message.ApplicationParcel) UpdateResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	result := t.updateLocked(source)
	if result != ResultUnexpected {
		t.responses = append(t.responses, requestResponse{source: source, parcel: parcel})
	}
	return result
}

func (t *RequestTracker) UpdatePayload(source identifier.ID, payload []byte) UpdateResult {
	return t.UpdateParcel(source, message.ApplicationParcel{
		Header:  message.Header{Source: source},
		Payload: payload,
	})
}

func (t *RequestTracker) updateLocked(source identifier.ID) UpdateResult {
	if t.status != StatusPending {
		return ResultUnexpected
	}
	responded, known := t.ledger[source]
	if !known || responded {
		return ResultUnexpected
	}
	t.ledger[source] = true
	t.received++
	if t.received >= t.expected {
		return ResultFulfilled
	}
	return ResultPartial
}

// Fulfill dispatches on_response/on_error for every tracked identifier, in
// the order responses were received, then synthesizes a RequestTimeout
// on_error for every identifier that never responded. Remaining counts
// down with each dispatch, reaching zero on the final one. The state
// transition happens under the tracker lock; the callbacks run outside it
// so they may re-enter the tracking service.
func (t *RequestTracker) Fulfill() bool {
	t.mu.Lock()
	if t.status == StatusCompleted {
		t.mu.Unlock()
		return false
	}
	responses := append([]requestResponse(nil), t.responses...)
	var unanswered []identifier.ID
	for id, responded := range t.ledger {
		if !responded {
			unanswered = append(unanswered, id)
		}
	}
	t.status = StatusCompleted
	t.mu.Unlock()

	dispatched := 0
	for _, rr := range responses {
		dispatched++
		status := rr.parcel.Status()
		response := Response{Key: t.key, Source: rr.source, Parcel: rr.parcel, Status: status, Remaining: t.expected - dispatched}
		if isErrorStatus(status) {
			if t.onError != nil {
				t.onError(response)
			}
		} else if t.onResponse != nil {
			t.onResponse(response)
		}
	}
	for _, id := range unanswered {
		dispatched++
		if t.onError != nil {
			t.onError(Response{Key: t.key, Source: id, Status: message.StatusRequestTimeout, Remaining: t.expected - dispatched})
		}
	}
	return true
}

func isErrorStatus(status message.StatusCode) bool {
	return status >= message.StatusBadRequest
}
