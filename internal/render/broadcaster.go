package render

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/nownext/internal/guide"
	"github.com/jmylchreest/nownext/internal/observability"
)

// EventTypeGuide is the SSE event name of a guide update.
const EventTypeGuide = "guide"

// subscriberBuffer is how many events a slow subscriber may lag behind
// before events are dropped for it.
const subscriberBuffer = 64

// GuideEvent is a guide update sent to subscribers.
type GuideEvent struct {
	ChannelID string              `json:"channel_id"`
	Status    string              `json:"status"`
	Now       *guide.ProgramEntry `json:"now,omitempty"`
	Next      *guide.ProgramEntry `json:"next,omitempty"`
	Sequence  uint64              `json:"sequence"`
	Timestamp time.Time           `json:"timestamp"`
}

// NewGuideEvent builds the event for a channel state.
func NewGuideEvent(channelID string, st guide.GuideState) GuideEvent {
	ev := GuideEvent{
		ChannelID: channelID,
		Status:    st.Status.String(),
		Sequence:  st.FetchedAtSequence,
		Timestamp: st.UpdatedAt,
	}
	if now, ok := st.Now(); ok {
		ev.Now = &now
	}
	if next, ok := st.Next(); ok {
		ev.Next = &next
	}
	return ev
}

// Subscriber receives guide events until it is unsubscribed.
type Subscriber struct {
	ID string

	// Channels limits delivery to these channel IDs. Empty means all.
	Channels map[string]struct{}

	Events chan GuideEvent
}

func (s *Subscriber) wants(channelID string) bool {
	if len(s.Channels) == 0 {
		return true
	}
	_, ok := s.Channels[channelID]
	return ok
}

// Broadcaster fans guide updates out to subscribers. Its Update method is a
// guide.UpdateFunc and never blocks: a subscriber whose buffer is full misses
// the event.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]*Subscriber),
		logger:      observability.WithComponent(slog.Default(), "render.broadcaster"),
	}
}

// WithLogger sets a custom logger.
func (b *Broadcaster) WithLogger(logger *slog.Logger) *Broadcaster {
	b.logger = observability.WithComponent(logger, "render.broadcaster")
	return b
}

// Subscribe registers a subscriber for the given channels, or for every
// channel when none are given.
func (b *Broadcaster) Subscribe(channelIDs ...string) *Subscriber {
	sub := &Subscriber{
		ID:     ulid.Make().String(),
		Events: make(chan GuideEvent, subscriberBuffer),
	}
	if len(channelIDs) > 0 {
		sub.Channels = make(map[string]struct{}, len(channelIDs))
		for _, id := range channelIDs {
			sub.Channels[id] = struct{}{}
		}
	}

	b.mu.Lock()
	b.subscribers[sub.ID] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber added", slog.String("subscriber_id", sub.ID))
	return sub
}

// Unsubscribe removes a subscriber and closes its event channel.
func (b *Broadcaster) Unsubscribe(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[subscriberID]; ok {
		close(sub.Events)
		delete(b.subscribers, subscriberID)
		b.logger.Debug("subscriber removed", slog.String("subscriber_id", subscriberID))
	}
}

// Len returns the number of subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Update sends the channel's new state to every interested subscriber.
func (b *Broadcaster) Update(channelID string, st guide.GuideState) {
	ev := NewGuideEvent(channelID, st)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if !sub.wants(channelID) {
			continue
		}
		select {
		case sub.Events <- ev:
		default:
			b.logger.Warn("subscriber event channel full, dropping event",
				slog.String("subscriber_id", sub.ID),
				slog.String("channel_id", channelID),
			)
		}
	}
}
