package guide

import (
	"sort"
	"sync"
	"time"
)

// Cache holds the guide state of every channel fetched this session.
// Writes follow last-issued-wins: a result is stored only when its sequence
// is the latest one issued for the channel.
//
// The cache also issues the per-channel sequence numbers. They are never
// reset; InvalidateAll retires every number issued so far, so a fetch that
// started before the invalidation can neither create nor update an entry.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	issued  map[string]uint64
	retired map[string]uint64
	now     func() time.Time
}

type cacheEntry struct {
	latest uint64
	state  GuideState
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]*cacheEntry),
		issued:  make(map[string]uint64),
		retired: make(map[string]uint64),
		now:     time.Now,
	}
}

// Get returns a copy of the channel's state. It never triggers a fetch.
func (c *Cache) Get(channelID string) (GuideState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[channelID]
	if !ok {
		return GuideState{}, false
	}
	return e.state.clone(), true
}

// NextSequence issues a fresh sequence number for the channel.
func (c *Cache) NextSequence(channelID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.issued[channelID]++
	return c.issued[channelID]
}

// Begin records seq as the latest issued sequence for the channel and marks
// it Pending, keeping any entries from an earlier cycle. It returns false
// when a sequence at least as new was already recorded, or when seq was
// retired by InvalidateAll.
func (c *Cache) Begin(channelID string, seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq <= c.retired[channelID] {
		return false
	}
	if seq > c.issued[channelID] {
		c.issued[channelID] = seq
	}

	e, ok := c.entries[channelID]
	if !ok {
		e = &cacheEntry{state: GuideState{ChannelID: channelID}}
		c.entries[channelID] = e
	} else if seq <= e.latest {
		return false
	}

	e.latest = seq
	e.state.Status = StatusPending
	e.state.FetchedAtSequence = seq
	e.state.UpdatedAt = c.now()
	return true
}

// Put stores state if its FetchedAtSequence is the latest issued for the
// channel. It reports whether the write was applied. A channel with no entry
// (never begun, or dropped by InvalidateAll) rejects every write.
func (c *Cache) Put(channelID string, state GuideState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[channelID]
	if !ok || state.FetchedAtSequence != e.latest {
		return false
	}

	state.ChannelID = channelID
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = c.now()
	}
	e.state = state.clone()
	return true
}

// InvalidateAll drops every entry and retires all sequence numbers issued so far.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	for id, n := range c.issued {
		c.retired[id] = n
	}
}

// Len returns the number of channels with an entry.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns a copy of every entry ordered by channel ID.
func (c *Cache) Snapshot() []GuideState {
	c.mu.RLock()
	out := make([]GuideState, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.state.clone())
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}
