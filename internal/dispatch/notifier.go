package dispatch

// notifier is a payload-free broadcast. Every fire wakes all goroutines
// currently holding the channel returned by wait. It has no locking of its
// own; callers hold Dispatcher.mu.
type notifier struct {
	ch     chan struct{}
	gen    uint64
	closed bool
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{})}
}

// wait returns a channel that is closed on the next fire or on close.
// Obtain it before releasing the lock so no fire can be missed.
func (n *notifier) wait() <-chan struct{} {
	return n.ch
}

func (n *notifier) fire() {
	if n.closed {
		return
	}
	close(n.ch)
	n.ch = make(chan struct{})
	n.gen++
}

func (n *notifier) close() {
	if n.closed {
		return
	}
	n.closed = true
	close(n.ch)
}
