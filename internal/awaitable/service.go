package awaitable

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/brypt-mesh/node/internal/identifier"
	"github.com/brypt-mesh/node/internal/message"
)

// ExpirationPeriod is the default tracker deadline, per spec.md §4.7 and
// original_source's ITracker::ExpirationPeriod.
const ExpirationPeriod = 1500 * time.Millisecond

// Service is the tracking service of spec.md §4.7: it stages trackers for
// outbound requests and cluster deferrals, correlates inbound responses
// against them, and sweeps expired/fulfilled trackers on Execute.
type Service struct {
	mu       sync.Mutex
	trackers map[Key]Tracker
	clock    clock.Clock
	local    identifier.ID
}

// NewService builds a tracking service. clk may be nil to use the real
// wall clock; tests inject a clock.Mock to make expiration deterministic.
func NewService(local identifier.ID, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{trackers: make(map[Key]Tracker), clock: clk, local: local}
}

// StageRequest generates a tracker key, binds a Request-binding Awaitable
// extension to builder, and inserts a RequestTracker expecting one
// response from each of identifiers.
func (s *Service) StageRequest(identifiers []identifier.ID, onResponse OnResponse, onError OnError, builder *message.ApplicationParcel) Key {
	key := DeriveKey(s.local)
	builder.Extensions = append(builder.Extensions, message.Awaitable{Binding: message.BindingRequest, Key: key})

	tracker := NewRequestTracker(key, identifiers, s.clock.Now().Add(ExpirationPeriod), onResponse, onError)

	s.mu.Lock()
	s.trackers[key] = tracker
	s.mu.Unlock()
	return key
}

// StageDeferred binds a Request-binding Awaitable extension to
// noticeBuilder and inserts a DeferredTracker expecting one response from
// each of peerIdentifiers (the original requestor should already be
// excluded by the caller). If the local node's own identifier is among
// peerIdentifiers, it is processed immediately since no network
// round-trip is needed for a node to answer its own broadcast.
func (s *Service) StageDeferred(requestor ResponseSink, peerIdentifiers []identifier.ID, original message.ApplicationParcel, noticeBuilder *message.ApplicationParcel) Key {
	key := DeriveKey(original.Header.Source)
	noticeBuilder.Extensions = append(noticeBuilder.Extensions, message.Awaitable{Binding: message.BindingRequest, Key: key})

	tracker := NewDeferredTracker(key, requestor, original, peerIdentifiers, s.clock.Now().Add(ExpirationPeriod))

	s.mu.Lock()
	s.trackers[key] = tracker
	s.mu.Unlock()

	for _, id := range peerIdentifiers {
		if id == s.local {
			_ = s.ProcessDirect(key, id, nil)
			break
		}
	}
	return key
}

// Process correlates an inbound response parcel against its tracker. The
// parcel must carry a Response-binding Awaitable extension; the response
// is rejected as Unexpected when no tracker matches the key, the sender
// isn't in that tracker's ledger, or the sender already responded.
func (s *Service) Process(parcel message.ApplicationParcel) UpdateResult {
	awaitable, ok := parcel.Awaitable()
	if !ok || awaitable.Binding != message.BindingResponse {
		return ResultUnexpected
	}
	return s.process(Key(awaitable.Key), parcel.Header.Source, parcel)
}

// ProcessDirect is the direct variant used for responses that originate
// locally rather than arriving as a parsed wire parcel.
func (s *Service) ProcessDirect(key Key, source identifier.ID, payload []byte) UpdateResult {
	return s.process(key, source, message.ApplicationParcel{
		Header:  message.Header{Source: source},
		Payload: payload,
	})
}

func (s *Service) process(key Key, source identifier.ID, parcel message.ApplicationParcel) UpdateResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	tracker, ok := s.trackers[key]
	if !ok {
		return ResultUnexpected
	}
	if !tracker.Correlate(source) {
		return ResultUnexpected
	}
	return tracker.UpdateParcel(source, parcel)
}

// Execute sweeps every tracker: promotes Pending to Fulfilled where due,
// runs Fulfill on newly-Fulfilled trackers, and removes Completed
// trackers. It returns how many trackers were fulfilled this sweep.
func (s *Service) Execute() int {
	now := s.clock.Now()

	s.mu.Lock()
	due := make([]Tracker, 0, len(s.trackers))
	for _, tracker := range s.trackers {
		if tracker.CheckStatus(now) == StatusFulfilled {
			due = append(due, tracker)
		}
	}
	s.mu.Unlock()

	fulfilled := 0
	for _, tracker := range due {
		if tracker.Fulfill() {
			fulfilled++
		}
	}

	s.mu.Lock()
	for key, tracker := range s.trackers {
		if tracker.Status() == StatusCompleted {
			delete(s.trackers, key)
		}
	}
	s.mu.Unlock()

	return fulfilled
}

// Count reports how many trackers are currently tracked, for tests and
// diagnostics.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trackers)
}
