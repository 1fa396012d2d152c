package engine

import "errors"

// Sentinel errors returned by the Processor's public API. StateMachine.Fire
// never returns an error; it reports every outcome as a TransitionResult.
var (
	// ErrMessageNotFound is returned when an operation names a message
	// identifier with no live StateMachine in the Processor's registry.
	ErrMessageNotFound = errors.New("engine: message not found")

	// ErrProcessorShutdown is returned by Processor operations invoked
	// after Shutdown has completed.
	ErrProcessorShutdown = errors.New("engine: processor is shut down")

	// ErrInvalidTransition is returned by Processor.Retry and
	// Processor.Cancel when the requested transition is not legal from the
	// message's current state.
	ErrInvalidTransition = errors.New("engine: invalid transition")

	// ErrNoTransport is returned when TransportConfig.Simulated is false
	// but no Transport collaborator was registered on the Processor.
	ErrNoTransport = errors.New("engine: no transport registered")
)
