package render

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/nownext/internal/guide"
)

func loaded(titles ...string) guide.GuideState {
	st := guide.GuideState{Status: guide.StatusLoaded, FetchedAtSequence: 3, UpdatedAt: time.Unix(1772395200, 0)}
	for _, title := range titles {
		st.Entries = append(st.Entries, guide.ProgramEntry{Title: title})
	}
	return st
}

func TestNewGuideEvent(t *testing.T) {
	ev := NewGuideEvent("101", loaded("Jornal", "Novela"))

	assert.Equal(t, "101", ev.ChannelID)
	assert.Equal(t, "loaded", ev.Status)
	require.NotNil(t, ev.Now)
	require.NotNil(t, ev.Next)
	assert.Equal(t, "Jornal", ev.Now.Title)
	assert.Equal(t, "Novela", ev.Next.Title)
	assert.Equal(t, uint64(3), ev.Sequence)

	empty := NewGuideEvent("102", guide.GuideState{Status: guide.StatusEmpty})
	assert.Equal(t, "empty", empty.Status)
	assert.Nil(t, empty.Now)
	assert.Nil(t, empty.Next)
}

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster()
	all := b.Subscribe()
	only := b.Subscribe("102")
	_, err := ulid.ParseStrict(all.ID)
	require.NoError(t, err)
	assert.NotEqual(t, all.ID, only.ID)
	assert.Equal(t, 2, b.Len())

	b.Update("101", loaded("Jornal"))
	b.Update("102", loaded("Futebol"))

	assert.Equal(t, "101", (<-all.Events).ChannelID)
	assert.Equal(t, "102", (<-all.Events).ChannelID)
	assert.Equal(t, "102", (<-only.Events).ChannelID)
	assert.Empty(t, only.Events)
}

func TestBroadcaster_FullSubscriberDropsEvents(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe()

	done := make(chan struct{})
	go func() {
		for range subscriberBuffer + 10 {
			b.Update("101", loaded("Jornal"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Update blocked on a full subscriber")
	}
	assert.Len(t, sub.Events, subscriberBuffer)
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe()

	b.Unsubscribe(sub.ID)
	b.Unsubscribe(sub.ID)

	_, open := <-sub.Events
	assert.False(t, open)
	assert.Equal(t, 0, b.Len())
	assert.NotPanics(t, func() { b.Update("101", loaded("Jornal")) })
}
