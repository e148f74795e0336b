package session

// Observer is notified after every state change. Observers run on the
// session goroutine: they may read the session accessors, but must not call
// SendMessage, Cancel, Reset or Close synchronously.
type Observer interface {
	StateChanged()
}

type ObserverFunc func()

func (f ObserverFunc) StateChanged() {
	f()
}

// ChannelObserver turns notifications into a channel signal. Notifications
// arriving while one is pending are coalesced, so a slow renderer only ever
// sees the latest state.
type ChannelObserver struct {
	ch chan struct{}
}

func NewChannelObserver() *ChannelObserver {
	return &ChannelObserver{ch: make(chan struct{}, 1)}
}

func (c *ChannelObserver) StateChanged() {
	select {
	case c.ch <- struct{}{}:
	default:
	}
}

func (c *ChannelObserver) C() <-chan struct{} {
	return c.ch
}
