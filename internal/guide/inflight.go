package guide

import "github.com/puzpuzpuz/xsync/v3"

// InFlight marks the channels with a fetch currently running.
type InFlight struct {
	running *xsync.MapOf[string, struct{}]
}

// NewInFlight creates an empty tracker.
func NewInFlight() *InFlight {
	return &InFlight{running: xsync.NewMapOf[string, struct{}]()}
}

// TryBegin marks the channel as running. It returns false if it already was.
func (f *InFlight) TryBegin(channelID string) bool {
	_, loaded := f.running.LoadOrStore(channelID, struct{}{})
	return !loaded
}

// End clears the channel's marker.
func (f *InFlight) End(channelID string) {
	f.running.Delete(channelID)
}

// Running reports whether a fetch is running for the channel.
func (f *InFlight) Running(channelID string) bool {
	_, ok := f.running.Load(channelID)
	return ok
}

// Len returns the number of running fetches.
func (f *InFlight) Len() int {
	return f.running.Size()
}
