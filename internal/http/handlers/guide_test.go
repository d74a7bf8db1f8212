package handlers

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/nownext/internal/guide"
	"github.com/jmylchreest/nownext/internal/render"
)

type fakeScheduler struct {
	mu         sync.Mutex
	catalog    []string
	states     map[string]guide.GuideState
	scheduled  map[string]bool
	visibility [2]int
	requests   []string
	refreshes  int
}

func newFakeScheduler(ids ...string) *fakeScheduler {
	return &fakeScheduler{
		catalog:   ids,
		states:    make(map[string]guide.GuideState),
		scheduled: make(map[string]bool),
	}
}

func (f *fakeScheduler) OnCatalogChanged(ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.catalog = append([]string(nil), ids...)
	f.states = make(map[string]guide.GuideState)
}

func (f *fakeScheduler) OnVisibilityChanged(first, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visibility = [2]int{first, count}
}

func (f *fakeScheduler) Request(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, id)
	if f.states[id].Status == guide.StatusLoaded {
		return false
	}
	f.scheduled[id] = true
	return true
}

func (f *fakeScheduler) Refresh() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
}

func (f *fakeScheduler) Get(id string) guide.GuideState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.states[id]; ok {
		return st
	}
	return guide.GuideState{ChannelID: id}
}

func (f *fakeScheduler) Known(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.catalog {
		if c == id {
			return true
		}
	}
	return false
}

func (f *fakeScheduler) Scheduled(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scheduled[id]
}

func (f *fakeScheduler) Catalog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.catalog...)
}

func (f *fakeScheduler) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.scheduled {
		if s {
			n++
		}
	}
	return n
}

func setupGuideRouter(t *testing.T, sched GuideScheduler, events *render.Broadcaster) (*chi.Mux, *GuideHandler) {
	t.Helper()
	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("Test API", "1.0.0"))
	h := NewGuideHandler(sched, events)
	h.Register(api)
	h.RegisterSSE(router)
	return router, h
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestGuideHandler_SetCatalog(t *testing.T) {
	sched := newFakeScheduler()
	router, _ := setupGuideRouter(t, sched, nil)

	rec := do(t, router, http.MethodPut, "/api/v1/catalog", `{"channel_ids":["101","102"]}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp CatalogResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"101", "102"}, resp.ChannelIDs)
	assert.Equal(t, []string{"101", "102"}, sched.Catalog())
}

func TestGuideHandler_SetCatalogRejectsEmptyIDs(t *testing.T) {
	sched := newFakeScheduler("1")
	router, _ := setupGuideRouter(t, sched, nil)

	rec := do(t, router, http.MethodPut, "/api/v1/catalog", `{"channel_ids":["101"," "]}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, []string{"1"}, sched.Catalog())
}

func TestGuideHandler_GetCatalog(t *testing.T) {
	router, _ := setupGuideRouter(t, newFakeScheduler("101"), nil)

	rec := do(t, router, http.MethodGet, "/api/v1/catalog", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"channel_ids":["101"]`)
}

func TestGuideHandler_SetVisibility(t *testing.T) {
	sched := newFakeScheduler("101")
	router, _ := setupGuideRouter(t, sched, nil)

	rec := do(t, router, http.MethodPut, "/api/v1/visibility", `{"first_visible":10,"visible_count":5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, [2]int{10, 5}, sched.visibility)

	rec = do(t, router, http.MethodPut, "/api/v1/visibility", `{"first_visible":-1,"visible_count":5}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGuideHandler_GetGuide(t *testing.T) {
	sched := newFakeScheduler("101", "102")
	start := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	sched.states["101"] = guide.GuideState{
		ChannelID:         "101",
		Status:            guide.StatusLoaded,
		FetchedAtSequence: 4,
		Entries:           []guide.ProgramEntry{{Title: "Jornal", Start: start}, {Title: "Novela"}},
	}
	router, _ := setupGuideRouter(t, sched, nil)

	rec := do(t, router, http.MethodGet, "/api/v1/guide/101", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp GuideResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "loaded", resp.Status)
	assert.Equal(t, uint64(4), resp.Sequence)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "Jornal", resp.Entries[0].Title)
	require.NotNil(t, resp.Entries[0].Start)
	assert.True(t, start.Equal(*resp.Entries[0].Start))
	assert.Nil(t, resp.Entries[1].Start)

	rec = do(t, router, http.MethodGet, "/api/v1/guide/102", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unrequested"`)

	rec = do(t, router, http.MethodGet, "/api/v1/guide/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGuideHandler_RequestGuide(t *testing.T) {
	sched := newFakeScheduler("101", "102")
	sched.states["102"] = guide.GuideState{ChannelID: "102", Status: guide.StatusLoaded}
	router, _ := setupGuideRouter(t, sched, nil)

	rec := do(t, router, http.MethodPost, "/api/v1/guide/101/request", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"accepted":true`)
	assert.Contains(t, rec.Body.String(), `"scheduled":true`)

	rec = do(t, router, http.MethodPost, "/api/v1/guide/102/request", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"accepted":false`)

	rec = do(t, router, http.MethodPost, "/api/v1/guide/999/request", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, []string{"101", "102"}, sched.requests)
}

func TestGuideHandler_Refresh(t *testing.T) {
	sched := newFakeScheduler("101")
	router, _ := setupGuideRouter(t, sched, nil)

	rec := do(t, router, http.MethodPost, "/api/v1/catalog/refresh", "")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, sched.refreshes)
}

func TestGuideHandler_Events(t *testing.T) {
	events := render.NewBroadcaster()
	router, h := setupGuideRouter(t, newFakeScheduler("101", "102"), events)
	h.SetHeartbeatInterval(time.Hour)
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/guide/events?channels=102")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ":connected\n", line)

	require.Eventually(t, func() bool { return events.Len() == 1 }, time.Second, 5*time.Millisecond)
	events.Update("101", guide.GuideState{Status: guide.StatusLoaded})
	events.Update("102", guide.GuideState{Status: guide.StatusEmpty, FetchedAtSequence: 2})

	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	assert.Equal(t, "event: guide", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "data: "))

	var ev render.GuideEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &ev))
	assert.Equal(t, "102", ev.ChannelID)
	assert.Equal(t, "empty", ev.Status)
}

func TestGuideHandler_NoEventsWithoutBroadcaster(t *testing.T) {
	router, _ := setupGuideRouter(t, newFakeScheduler("101"), nil)

	rec := do(t, router, http.MethodGet, "/api/v1/guide/events", "")

	// Without the stream the path is read as a channel ID.
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
