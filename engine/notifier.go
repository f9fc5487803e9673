package engine

// Notifier wakes up a worker routine when new work arrives. Notifications are
// coalesced: any number of Notify calls before the worker reads the channel
// result in a single wake-up. Notifiers can be passed by value.
type Notifier struct {
	notifier chan struct{}
}

// NewNotifier creates a Notifier.
func NewNotifier() Notifier {
	return Notifier{make(chan struct{}, 1)}
}

// Notify signals the worker without blocking.
func (n Notifier) Notify() {
	select {
	case n.notifier <- struct{}{}:
	default:
	}
}

// Channel returns the channel the worker waits on.
func (n Notifier) Channel() <-chan struct{} {
	return n.notifier
}
