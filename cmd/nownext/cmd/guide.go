package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/nownext/internal/guide"
	"github.com/jmylchreest/nownext/internal/metadata"
	"github.com/jmylchreest/nownext/internal/observability"
	"github.com/jmylchreest/nownext/internal/render"
)

var guideCmd = &cobra.Command{
	Use:   "guide",
	Short: "Print the now/next guide of a live category",
	Long: `Load the live channels of a category, prefetch the guides of the
selected rows and print them once the fetches finish or the wait elapses.

  nownext guide --category 12 --first 0 --count 10`,
	RunE: runGuide,
}

func init() {
	rootCmd.AddCommand(guideCmd)

	guideCmd.Flags().String("category", "", "Live category ID (required)")
	guideCmd.Flags().Int("first", 0, "Position of the first row to print")
	guideCmd.Flags().Int("count", 10, "Number of rows to print")
	guideCmd.Flags().Duration("wait", 10*time.Second, "Longest time to wait for the guides")
	guideCmd.Flags().Int("width", render.DefaultWidth, "Width of the now and next columns")
	_ = guideCmd.MarkFlagRequired("category")
}

func runGuide(cmd *cobra.Command, _ []string) (err error) {
	category, _ := cmd.Flags().GetString("category")
	first, _ := cmd.Flags().GetInt("first")
	count, _ := cmd.Flags().GetInt("count")
	wait, _ := cmd.Flags().GetDuration("wait")
	width, _ := cmd.Flags().GetInt("width")
	if first < 0 || count < 1 {
		return errors.New("--first must not be negative and --count must be positive")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := observability.TimedOperationWithError(ctx, logger, "guide_render", &err)
	defer done()

	st, err := buildStack(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer st.scheduler.Close()

	channels, err := st.catalog.Channels(ctx, category)
	if err != nil {
		return fmt.Errorf("loading category %q: %w", category, err)
	}
	if len(channels) == 0 {
		return fmt.Errorf("category %q has no live channels", category)
	}

	table := render.NewTable(st.scheduler).WithWidth(width)
	table.SetChannels(tableChannels(channels))
	st.scheduler.OnGuideUpdated(table.Update)

	st.scheduler.OnCatalogChanged(metadata.ChannelIDs(channels))
	st.scheduler.OnVisibilityChanged(first, count)

	if !waitSettled(ctx, table, st.scheduler, first, count, wait) {
		logger.Warn("guide wait elapsed with fetches outstanding",
			slog.Int("pending", st.scheduler.Pending()),
			slog.Duration("wait", wait),
		)
	}

	return table.Write(cmd.OutOrStdout(), first, count)
}

// waitSettled blocks until the rows in range have finished fetching, the
// wait elapses or ctx is done. It reports whether the rows settled.
func waitSettled(ctx context.Context, table *render.Table, sched *guide.Scheduler, first, count int, wait time.Duration) bool {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		if table.Settled(first, count) {
			return true
		}
		select {
		case <-table.Changed():
			for _, id := range table.Dirty() {
				slog.Debug("row updated", slog.String("channel_id", id), slog.String("status", sched.Get(id).Status.String()))
			}
		case <-deadline.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func tableChannels(channels []metadata.Channel) []render.Channel {
	out := make([]render.Channel, len(channels))
	for i, ch := range channels {
		out[i] = render.Channel{ID: ch.ID, Name: ch.Name}
	}
	return out
}
