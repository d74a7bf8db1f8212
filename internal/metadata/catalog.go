package metadata

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/jmylchreest/nownext/internal/observability"
	"github.com/jmylchreest/nownext/pkg/xtream"
)

// ErrUnauthorized is returned when the panel rejects the configured account.
var ErrUnauthorized = errors.New("metadata: xtream account is not active")

// Category is a live channel category.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Channel is a live channel of the catalog.
type Channel struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Number       int64  `json:"number"`
	Icon         string `json:"icon,omitempty"`
	EPGChannelID string `json:"epg_channel_id,omitempty"`
	CategoryID   string `json:"category_id,omitempty"`
}

// Catalog lists the live catalog of a panel. It feeds channel IDs to the
// scheduler; the guide core never calls it.
type Catalog struct {
	client *xtream.Client
	logger *slog.Logger
}

// NewCatalog creates a catalog provider using client.
func NewCatalog(client *xtream.Client) *Catalog {
	return &Catalog{
		client: client,
		logger: observability.WithComponent(slog.Default(), "catalog"),
	}
}

// WithLogger sets a custom logger.
func (c *Catalog) WithLogger(logger *slog.Logger) *Catalog {
	c.logger = observability.WithComponent(logger, "catalog")
	return c
}

// Verify checks that the configured account can use the panel.
func (c *Catalog) Verify(ctx context.Context) error {
	info, err := c.client.GetAuthInfo(ctx)
	if err != nil {
		return fmt.Errorf("fetching account info: %w", err)
	}
	if !info.UserInfo.IsAuthenticated() {
		return fmt.Errorf("%w: status %q", ErrUnauthorized, info.UserInfo.Status)
	}
	c.logger.Debug("xtream account verified",
		slog.String("username", info.UserInfo.Username),
		slog.String("timezone", info.ServerInfo.Timezone),
	)
	return nil
}

// Categories returns the live categories in panel order.
func (c *Catalog) Categories(ctx context.Context) ([]Category, error) {
	raw, err := c.client.GetLiveCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching live categories: %w", err)
	}

	out := make([]Category, 0, len(raw))
	for _, cat := range raw {
		out = append(out, Category{ID: cat.CategoryID.String(), Name: cat.CategoryName})
	}
	return out, nil
}

// Channels returns the live channels of a category ordered by channel
// number. An empty categoryID lists every channel.
func (c *Catalog) Channels(ctx context.Context, categoryID string) ([]Channel, error) {
	streams, err := c.client.GetLiveStreams(ctx, categoryID)
	if err != nil {
		return nil, fmt.Errorf("fetching live streams: %w", err)
	}

	out := make([]Channel, 0, len(streams))
	for i := range streams {
		st := &streams[i]
		if st.StreamID.Int() <= 0 {
			continue
		}
		out = append(out, Channel{
			ID:           st.ID(),
			Name:         st.Name,
			Number:       st.Num.Int(),
			Icon:         st.StreamIcon,
			EPGChannelID: st.EPGChannelID,
			CategoryID:   st.CategoryID.String(),
		})
	}
	slices.SortStableFunc(out, func(a, b Channel) int { return cmp.Compare(a.Number, b.Number) })

	c.logger.Debug("live channels listed",
		slog.String("category_id", categoryID),
		slog.Int("channels", len(out)),
	)
	return out, nil
}

// ChannelIDs returns the IDs of channels in order.
func ChannelIDs(channels []Channel) []string {
	ids := make([]string, len(channels))
	for i, ch := range channels {
		ids[i] = ch.ID
	}
	return ids
}
