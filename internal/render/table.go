// Package render turns cached guide states into something a user sees: rows
// of a terminal table, or events for subscribed HTTP clients.
package render

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/nownext/internal/guide"
)

// Placeholders shown instead of a programme title.
const (
	Unavailable = "Programação não disponível"
	Loading     = "…"
)

// DefaultWidth is the column width of the now and next fields.
const DefaultWidth = 40

// Source is where the table reads guide states from. *guide.Scheduler
// implements it.
type Source interface {
	Get(channelID string) guide.GuideState
	Scheduled(channelID string) bool
}

// Channel is a catalog row.
type Channel struct {
	ID   string
	Name string
}

// Row is one rendered channel.
type Row struct {
	ChannelID string
	Name      string
	Now       string
	Next      string
	Status    guide.Status

	// Fetching is set while a fetch is staged or running.
	Fetching bool
}

// Table renders the catalog as now/next rows. Its Update method is a
// guide.UpdateFunc: it only records which rows changed and never blocks.
type Table struct {
	src      Source
	width    int
	location *time.Location

	mu       sync.Mutex
	channels []Channel
	dirty    map[string]struct{}
	changed  chan struct{}
}

// NewTable creates a table reading from src.
func NewTable(src Source) *Table {
	return &Table{
		src:      src,
		width:    DefaultWidth,
		location: time.Local,
		dirty:    make(map[string]struct{}),
		changed:  make(chan struct{}, 1),
	}
}

// WithWidth sets the width of the now and next columns.
func (t *Table) WithWidth(width int) *Table {
	if width > 0 {
		t.width = width
	}
	return t
}

// WithLocation sets the zone programme times are shown in.
func (t *Table) WithLocation(loc *time.Location) *Table {
	if loc != nil {
		t.location = loc
	}
	return t
}

// SetChannels replaces the rows of the table.
func (t *Table) SetChannels(channels []Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channels = append([]Channel(nil), channels...)
	t.dirty = make(map[string]struct{})
}

// Update marks a channel's row for redraw.
func (t *Table) Update(channelID string, _ guide.GuideState) {
	t.mu.Lock()
	t.dirty[channelID] = struct{}{}
	t.mu.Unlock()

	select {
	case t.changed <- struct{}{}:
	default:
	}
}

// Changed is signalled after one or more Update calls.
func (t *Table) Changed() <-chan struct{} {
	return t.changed
}

// Dirty returns and clears the channels updated since the last call.
func (t *Table) Dirty() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.dirty))
	for _, ch := range t.channels {
		if _, ok := t.dirty[ch.ID]; ok {
			out = append(out, ch.ID)
		}
	}
	t.dirty = make(map[string]struct{})
	return out
}

// Rows returns count rows starting at first. A non-positive count returns
// every row from first.
func (t *Table) Rows(first, count int) []Row {
	t.mu.Lock()
	channels := t.channels
	t.mu.Unlock()

	first = min(max(first, 0), len(channels))
	end := len(channels)
	if count > 0 {
		end = min(first+count, end)
	}

	rows := make([]Row, 0, end-first)
	for _, ch := range channels[first:end] {
		rows = append(rows, t.row(ch))
	}
	return rows
}

// Settled reports whether every row in the range has a finished fetch or
// none was ever staged.
func (t *Table) Settled(first, count int) bool {
	for _, r := range t.Rows(first, count) {
		if r.Fetching {
			return false
		}
	}
	return true
}

// row reads Scheduled before Get: a channel leaves Scheduled only after it
// is visible as Pending, so the row is never read as idle in between.
func (t *Table) row(ch Channel) Row {
	scheduled := t.src.Scheduled(ch.ID)
	st := t.src.Get(ch.ID)
	r := Row{ChannelID: ch.ID, Name: ch.Name, Status: st.Status}

	switch {
	case st.Status == guide.StatusLoaded:
		if now, ok := st.Now(); ok {
			r.Now = t.entry(now)
		}
		if next, ok := st.Next(); ok {
			r.Next = t.entry(next)
		}
	case st.Status == guide.StatusEmpty, st.Status == guide.StatusFailed:
		r.Now = Unavailable
	case st.Status == guide.StatusPending, scheduled:
		r.Now = Loading
		r.Fetching = true
	}
	return r
}

func (t *Table) entry(e guide.ProgramEntry) string {
	title := e.Title
	if !e.Start.IsZero() {
		title = e.Start.In(t.location).Format("15:04") + " " + title
	}
	return Truncate(title, t.width)
}

// Write renders count rows starting at first as aligned text.
func (t *Table) Write(w io.Writer, first, count int) error {
	rows := t.Rows(first, count)

	nameWidth := len("CHANNEL")
	for _, r := range rows {
		nameWidth = max(nameWidth, DisplayWidth(r.Name))
	}
	nameWidth = min(nameWidth, t.width)

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s  %s\n", Pad("CHANNEL", nameWidth), Pad("NOW", t.width), "NEXT")
	for _, r := range rows {
		line := Pad(Truncate(r.Name, nameWidth), nameWidth) + "  " + Pad(r.Now, t.width) + "  " + r.Next
		b.WriteString(strings.TrimRight(line, " "))
		b.WriteByte('\n')
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("writing guide table: %w", err)
	}
	return nil
}
