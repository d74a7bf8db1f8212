package xtream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	client := NewClient("http://example.com:8080/", "user", "pass")

	if client.BaseURL != "http://example.com:8080" {
		t.Errorf("expected trailing slash to be removed, got %q", client.BaseURL)
	}
	if client.Username != "user" || client.Password != "pass" {
		t.Errorf("unexpected credentials %q/%q", client.Username, client.Password)
	}
	if client.HTTPClient == nil {
		t.Error("expected HTTPClient to be set")
	}
	if !strings.HasPrefix(client.UserAgent, "nownext/") {
		t.Errorf("expected default user agent, got %q", client.UserAgent)
	}
}

func TestWithUserAgent_EmptyKeepsDefault(t *testing.T) {
	client := NewClient("http://example.com", "u", "p", WithUserAgent(""))
	if client.UserAgent == "" {
		t.Error("expected default user agent to be kept")
	}

	client = NewClient("http://example.com", "u", "p", WithUserAgent("IPTVSmarters"))
	if client.UserAgent != "IPTVSmarters" {
		t.Errorf("expected custom user agent, got %q", client.UserAgent)
	}
}

func TestClient_APIURL_EscapesCredentials(t *testing.T) {
	client := NewClient("http://example.com", "us er", "p&ss")
	u := client.apiURL(actionGetShortEPG, nil)

	if !strings.Contains(u, "username=us+er") {
		t.Errorf("username not escaped: %s", u)
	}
	if !strings.Contains(u, "password=p%26ss") {
		t.Errorf("password not escaped: %s", u)
	}
}

func TestClient_GetAuthInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/player_api.php" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("username") != "user" || r.URL.Query().Get("password") != "pass" {
			t.Errorf("unexpected credentials: %s", r.URL.RawQuery)
		}
		if r.URL.Query().Has("action") {
			t.Errorf("auth request must not carry an action")
		}
		_, _ = w.Write([]byte(`{"user_info":{"username":"user","auth":1,"status":"Active"},"server_info":{"port":"8080","timezone":"UTC"}}`))
	}))
	defer server.Close()

	info, err := NewClient(server.URL, "user", "pass").GetAuthInfo(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !info.UserInfo.IsAuthenticated() {
		t.Error("expected user to be authenticated")
	}
	if info.ServerInfo.Port.Int() != 8080 {
		t.Errorf("expected port 8080, got %d", info.ServerInfo.Port.Int())
	}
}

func TestClient_GetLiveCategories(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") != "get_live_categories" {
			t.Errorf("unexpected action: %s", r.URL.Query().Get("action"))
		}
		_ = json.NewEncoder(w).Encode([]Category{
			{CategoryID: "1", CategoryName: "News"},
			{CategoryID: "2", CategoryName: "Sports"},
		})
	}))
	defer server.Close()

	categories, err := NewClient(server.URL, "user", "pass").GetLiveCategories(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(categories) != 2 || categories[0].CategoryName != "News" {
		t.Errorf("unexpected categories: %+v", categories)
	}
}

func TestClient_GetLiveStreams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") != "get_live_streams" {
			t.Errorf("unexpected action: %s", r.URL.Query().Get("action"))
		}
		if r.URL.Query().Get("category_id") != "5" {
			t.Errorf("unexpected category_id: %s", r.URL.Query().Get("category_id"))
		}
		_, _ = w.Write([]byte(`[{"num":1,"name":"CNN","stream_id":"123","category_id":5}]`))
	}))
	defer server.Close()

	streams, err := NewClient(server.URL, "user", "pass").GetLiveStreams(context.Background(), "5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(streams) != 1 {
		t.Fatalf("expected 1 stream, got %d", len(streams))
	}
	if streams[0].ID() != "123" {
		t.Errorf("expected stream ID 123, got %q", streams[0].ID())
	}
	if streams[0].CategoryID.String() != "5" {
		t.Errorf("expected category 5, got %q", streams[0].CategoryID)
	}
}

func TestClient_GetLiveStreams_AllCategories(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("category_id") {
			t.Errorf("category_id must be omitted, got %q", r.URL.Query().Get("category_id"))
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	if _, err := NewClient(server.URL, "user", "pass").GetLiveStreams(context.Background(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClient_GetShortEPG(t *testing.T) {
	now := time.Now().Unix()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("action") != "get_short_epg" {
			t.Errorf("unexpected action: %s", q.Get("action"))
		}
		if q.Get("stream_id") != "123" {
			t.Errorf("unexpected stream_id: %s", q.Get("stream_id"))
		}
		if q.Get("limit") != "2" {
			t.Errorf("unexpected limit: %s", q.Get("limit"))
		}
		_ = json.NewEncoder(w).Encode(EPGResponse{EPGListings: []EPGListing{
			{Title: "TW9ybmluZyBOZXdz", StartTimestamp: FlexInt(now), StopTimestamp: FlexInt(now + 3600)},
			{Title: "V2VhdGhlcg==", StartTimestamp: FlexInt(now + 3600)},
		}})
	}))
	defer server.Close()

	epg, err := NewClient(server.URL, "user", "pass").GetShortEPG(context.Background(), "123", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(epg) != 2 {
		t.Fatalf("expected 2 EPG entries, got %d", len(epg))
	}
	if epg[0].Title != "TW9ybmluZyBOZXdz" {
		t.Errorf("title must be passed through undecoded, got %q", epg[0].Title)
	}
	if epg[0].EndTime().Unix() != now+3600 {
		t.Errorf("unexpected end time %v", epg[0].EndTime())
	}
}

func TestClient_GetShortEPG_NoLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("limit") {
			t.Errorf("limit must be omitted when zero")
		}
		_, _ = w.Write([]byte(`{"epg_listings":[]}`))
	}))
	defer server.Close()

	epg, err := NewClient(server.URL, "user", "pass").GetShortEPG(context.Background(), "1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(epg) != 0 {
		t.Errorf("expected no entries, got %d", len(epg))
	}
}

func TestClient_GetFullEPG(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") != "get_simple_data_table" {
			t.Errorf("unexpected action: %s", r.URL.Query().Get("action"))
		}
		_, _ = w.Write([]byte(`{"epg_listings":[{"title":"QQ==","start":"2024-01-01 10:00:00","end":"2024-01-01 11:00:00"}]}`))
	}))
	defer server.Close()

	epg, err := NewClient(server.URL, "user", "pass").GetFullEPG(context.Background(), "9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(epg) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(epg))
	}
	want := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	if !epg[0].StartTime().Equal(want) {
		t.Errorf("expected start %v, got %v", want, epg[0].StartTime())
	}
}

func TestClient_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("account disabled\n"))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "user", "pass").GetShortEPG(context.Background(), "1", 2)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusForbidden || statusErr.Body != "account disabled" {
		t.Errorf("unexpected status error: %+v", statusErr)
	}
}

func TestClient_MalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"html page", "<html>maintenance</html>"},
		{"wrong shape", `"not an object"`},
		{"empty body", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClient(server.URL, "user", "pass").GetFullEPG(context.Background(), "1")
			if !errors.Is(err, ErrDecode) {
				t.Errorf("expected ErrDecode, got %v", err)
			}
		})
	}
}

func TestClient_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(server.URL, "user", "pass").GetShortEPG(ctx, "1", 2)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
