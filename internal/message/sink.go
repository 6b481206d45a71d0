package message

// Sink is the capability a component exposes to receive decoded
// application payloads, per spec.md §4.3. CollectMessage returns false to
// signal the caller that the message was rejected and no reply should be
// attempted.
type Sink interface {
	CollectMessage(ctx Context, buffer []byte) bool
}

// EchoSink is a trivial Sink that records and accepts every delivery it
// receives; it sends no reply. It exists for tests that need
// a Sink without wiring up real application routes (out of scope per
// spec.md).
type EchoSink struct {
	Received []Delivery
}

// Delivery is one CollectMessage invocation recorded by EchoSink.
type Delivery struct {
	Context Context
	Buffer  []byte
}

func (s *EchoSink) CollectMessage(ctx Context, buffer []byte) bool {
	s.Received = append(s.Received, Delivery{Context: ctx, Buffer: buffer})
	return true
}
