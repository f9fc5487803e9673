package module

import (
	"github.com/nightshard/shardnode/module/irrecoverable"
)

// ReadyDoneAware provides an easy interface to wait for module startup and shutdown.
type ReadyDoneAware interface {
	// Ready returns a channel that is closed once the module has fully started.
	Ready() <-chan struct{}

	// Done returns a channel that is closed once the module has fully stopped.
	Done() <-chan struct{}
}

// Startable provides an interface to start a component. Once started, the
// component can be stopped by cancelling the given context.
type Startable interface {
	Start(irrecoverable.SignalerContext)
}
