package guide

import (
	"context"
	"sync"
)

// fakeService is a MetadataService backed by per-channel responses.
type fakeService struct {
	mu    sync.Mutex
	short map[string]fakeResponse
	full  map[string]fakeResponse
	calls []string

	// gate, when set, blocks every short query until it is closed.
	gate chan struct{}
}

type fakeResponse struct {
	entries []RawEntry
	err     error
}

func newFakeService() *fakeService {
	return &fakeService{
		short: make(map[string]fakeResponse),
		full:  make(map[string]fakeResponse),
	}
}

func (f *fakeService) setShort(channelID string, entries []RawEntry, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.short[channelID] = fakeResponse{entries: entries, err: err}
}

func (f *fakeService) setFull(channelID string, entries []RawEntry, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.full[channelID] = fakeResponse{entries: entries, err: err}
}

func (f *fakeService) FetchShortGuide(ctx context.Context, channelID string, _ int) ([]RawEntry, error) {
	f.record("short:" + channelID)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.short[channelID]
	return r.entries, r.err
}

func (f *fakeService) FetchFullGuide(_ context.Context, channelID string) ([]RawEntry, error) {
	f.record("full:" + channelID)
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.full[channelID]
	return r.entries, r.err
}

func (f *fakeService) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeService) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeService) CallsFor(channelID string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == "short:"+channelID {
			n++
		}
	}
	return n
}

// updates records UpdateFunc notifications.
type updates struct {
	mu     sync.Mutex
	states []GuideState
}

func (u *updates) record(_ string, st GuideState) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.states = append(u.states, st)
}

func (u *updates) All() []GuideState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]GuideState(nil), u.states...)
}
