package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hacknation/dozin/internal/services"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	filterOpts := &FilterOptions{}
	var limit int

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the listings live and print every update",
		Long: `Subscribe to the listing store and print the filtered listing set each
time it changes. Runs until interrupted, or until --limit updates were printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(rootOpts, filterOpts, limit, cmd)
		},
	}
	filterOpts.register(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "exit after this many updates (0 = never)")

	return cmd
}

func runWatch(opts *RootOptions, filterOpts *FilterOptions, limit int, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	filter, err := filterOpts.Filter()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store, closeStore, err := opts.OpenStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to open listing store: %w", err)
	}
	defer closeStore(ctx)

	view := services.NewLiveView(store)
	if err := view.Activate(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to listings: %w", err)
	}
	defer view.Deactivate()

	if err := view.WaitReady(ctx); err != nil {
		return nil
	}

	for printed := 0; ; {
		changed := view.Changed()

		formatter.VerboseLog("update %d", printed+1)
		if err := formatter.Listings(services.FilterListings(view.Listings(), filter)); err != nil {
			return err
		}
		if printed++; limit > 0 && printed >= limit {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		}
	}
}
