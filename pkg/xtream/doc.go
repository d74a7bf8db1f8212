// Package xtream provides a Go client for the parts of the Xtream Codes API
// that a live channel guide needs.
//
// Xtream Codes is an IPTV panel system exposing a JSON API at
//
//	{baseURL}/player_api.php?username={user}&password={pass}&action={action}
//
// # Basic Usage
//
//	client := xtream.NewClient("http://example.com:8080", "username", "password")
//
//	// Verify credentials
//	info, err := client.GetAuthInfo(ctx)
//
//	// Channels of a category
//	categories, err := client.GetLiveCategories(ctx)
//	streams, err := client.GetLiveStreams(ctx, "1")
//
//	// Now/next for a channel, falling back to the full table
//	epg, err := client.GetShortEPG(ctx, "12345", 2)
//	epg, err = client.GetFullEPG(ctx, "12345")
//
// Actions used:
//   - (no action): server info and authentication status
//   - get_live_categories: live stream categories
//   - get_live_streams: live streams (optional: category_id)
//   - get_short_epg: short EPG (required: stream_id, optional: limit)
//   - get_simple_data_table: full EPG (required: stream_id)
//
// Listing titles and descriptions are returned base64 encoded by most panels;
// the client hands them through untouched.
package xtream
