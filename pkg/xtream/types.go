package xtream

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// listingTimeLayout is the panel's local "start"/"end" string format.
const listingTimeLayout = "2006-01-02 15:04:05"

// AuthInfo contains the combined server and user information returned by the API.
type AuthInfo struct {
	UserInfo   UserInfo   `json:"user_info"`
	ServerInfo ServerInfo `json:"server_info"`
}

// UserInfo contains user account information.
type UserInfo struct {
	Username       string  `json:"username"`
	Message        string  `json:"message"`
	Auth           FlexInt `json:"auth"`
	Status         string  `json:"status"`
	ExpDate        FlexInt `json:"exp_date"`
	MaxConnections FlexInt `json:"max_connections"`
}

// IsAuthenticated returns true if the user is authenticated.
func (u *UserInfo) IsAuthenticated() bool {
	return u.Auth.Int() == 1 && u.Status == "Active"
}

// ServerInfo contains server configuration information.
type ServerInfo struct {
	URL          string  `json:"url"`
	Port         FlexInt `json:"port"`
	Timezone     string  `json:"timezone"`
	TimestampNow FlexInt `json:"timestamp_now"`
}

// Category represents a content category.
type Category struct {
	CategoryID   FlexString `json:"category_id"`
	CategoryName string     `json:"category_name"`
	ParentID     FlexInt    `json:"parent_id"`
}

// Stream represents a live stream.
type Stream struct {
	Num          FlexInt    `json:"num"`
	Name         string     `json:"name"`
	StreamType   string     `json:"stream_type"`
	StreamID     FlexInt    `json:"stream_id"`
	StreamIcon   string     `json:"stream_icon"`
	EPGChannelID string     `json:"epg_channel_id"`
	CategoryID   FlexString `json:"category_id"`
	TVArchive    FlexInt    `json:"tv_archive"`
}

// ID returns the stream identifier as the string form used by the guide.
func (s *Stream) ID() string {
	return strconv.FormatInt(s.StreamID.Int(), 10)
}

// EPGListing represents a single EPG entry. Title and Description are
// usually base64 encoded by the panel.
type EPGListing struct {
	ID             FlexString `json:"id"`
	EPGId          FlexString `json:"epg_id"`
	Title          string     `json:"title"`
	Lang           string     `json:"lang"`
	Start          string     `json:"start"`
	End            string     `json:"end"`
	Description    string     `json:"description"`
	ChannelID      string     `json:"channel_id"`
	StartTimestamp FlexInt    `json:"start_timestamp"`
	StopTimestamp  FlexInt    `json:"stop_timestamp"`
	NowPlaying     FlexInt    `json:"now_playing"`
}

// StartTime returns the program start time, or the zero time when unknown.
func (e *EPGListing) StartTime() time.Time {
	return listingTime(e.StartTimestamp, e.Start)
}

// EndTime returns the program end time, or the zero time when unknown.
func (e *EPGListing) EndTime() time.Time {
	return listingTime(e.StopTimestamp, e.End)
}

func listingTime(ts FlexInt, s string) time.Time {
	if ts.Int() > 0 {
		return time.Unix(ts.Int(), 0)
	}
	if t, err := time.Parse(listingTimeLayout, s); err == nil {
		return t
	}
	return time.Time{}
}

// EPGResponse wraps the EPG listings response.
type EPGResponse struct {
	EPGListings []EPGListing `json:"epg_listings"`
}

// UnmarshalJSON accepts the object form as well as the bare "[]" some panels
// return for channels without guide data. A non-array epg_listings value
// (false, null) decodes as no listings.
func (r *EPGResponse) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var listings []EPGListing
		if err := json.Unmarshal(data, &listings); err != nil {
			return err
		}
		r.EPGListings = listings
		return nil
	}

	var raw struct {
		EPGListings json.RawMessage `json:"epg_listings"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.EPGListings = nil
	listings := bytes.TrimSpace(raw.EPGListings)
	if len(listings) == 0 || listings[0] != '[' {
		return nil
	}
	return json.Unmarshal(listings, &r.EPGListings)
}

// FlexInt handles JSON numbers that may be strings or integers.
type FlexInt int64

// Int returns the integer value.
func (f FlexInt) Int() int64 {
	return int64(f)
}

// UnmarshalJSON handles both string and number JSON values.
// Unparseable values decode as zero.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexInt(n)
		return nil
	}

	*f = 0
	var s string
	if err := json.Unmarshal(data, &s); err == nil && s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			*f = FlexInt(n)
		}
	}
	return nil
}

// FlexString handles JSON values that may be strings or numbers.
type FlexString string

// String returns the string value.
func (f FlexString) String() string {
	return string(f)
}

// UnmarshalJSON handles both string and number JSON values.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexString(n.String())
		return nil
	}

	*f = ""
	return nil
}
