package engine

import "context"

// Transport is the out-of-scope wire-send collaborator (spec.md §1:
// "delivering a message over any wire protocol ... is explicitly out of
// scope"). A surrounding service implements Transport over whatever
// broker or protocol it uses, and reports the outcome back onto the
// StateMachine by firing EventSent/EventFail/EventConfirm itself; the
// engine core only simulates these when Config.Transport.Simulated is
// true and no Transport is registered.
type Transport interface {
	// Send delivers msg's payload. The caller decides whether to fire
	// EventSent or EventFail on the result.
	Send(ctx context.Context, msg *Message) error
}

// Broker is the out-of-scope message source (spec.md §1): whatever pulls
// raw messages off a queue or topic and constructs engine Messages from
// them. The core never consumes a Broker directly; a surrounding service
// does, then calls Processor.Submit.
type Broker interface {
	// Receive blocks until a message is available or ctx is done.
	Receive(ctx context.Context) (*Message, error)
}
