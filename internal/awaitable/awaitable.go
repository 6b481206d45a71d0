// Package awaitable implements the request-tracking service described in
// spec.md §4.7: correlating outgoing requests (or cluster-spawned
// deferrals) with their in-flight responses, and sweeping expired
// trackers on a schedule.
package awaitable

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/brypt-mesh/node/internal/identifier"
	"github.com/brypt-mesh/node/internal/message"
)

// Key identifies one tracker. Generated from a UUID's raw bytes, it is
// wide enough to also serve as the Awaitable extension's wire key
// (message.Awaitable.Key is [16]byte).
type Key [16]byte

func (k Key) String() string { return uuid.UUID(k).String() }

// GenerateKey produces a fresh, effectively-unique tracker key.
func GenerateKey() Key {
	return Key(uuid.New())
}

// DeriveKey produces a tracker key attributable to the peer that staged
// the request: the requestor's leading identifier bytes are folded into
// fresh UUID entropy, so the key stays unique across the service while
// carrying the requestor's fingerprint.
func DeriveKey(requestor identifier.ID) Key {
	key := Key(uuid.New())
	for i := 0; i < 8; i++ {
		key[i] ^= requestor[i]
	}
	return key
}

// Status is a tracker's lifecycle stage.
type Status int

const (
	StatusPending Status = iota
	StatusFulfilled
	StatusCompleted
)

// UpdateResult reports the outcome of feeding one response into a tracker.
type UpdateResult int

const (
	ResultUnexpected UpdateResult = iota
	ResultPartial
	ResultFulfilled
)

// Response is what the tracking service hands to a request's on_response
// or on_error callback during Execute.
type Response struct {
	Key       Key
	Source    identifier.ID
	Parcel    message.ApplicationParcel
	Status    message.StatusCode
	Remaining int
}

// OnResponse and OnError are a request tracker's fulfillment callbacks.
type OnResponse func(Response)
type OnError func(Response)

// ErrUnknownTracker is returned by Process when no tracker matches the
// response's key.
var ErrUnknownTracker = fmt.Errorf("awaitable: no tracker for key")
