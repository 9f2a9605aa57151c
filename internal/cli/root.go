package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hacknation/dozin/internal/config"
	"github.com/hacknation/dozin/internal/services"
	"github.com/hacknation/dozin/internal/storage"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// OpenStore connects the listing store. Defaults to the configured driver.
	OpenStore func(ctx context.Context) (storage.ListingStore, storage.CloseFunc, error)
	// FollowEvents consumes listing events until ctx is done. Defaults to the configured broker.
	FollowEvents func(ctx context.Context, bindingKey string, handle services.ListingEventHandler) error
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for dozinctl.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{
		OpenStore:    openConfiguredStore,
		FollowEvents: followConfiguredEvents,
	})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dozinctl",
		Short: "dozinctl - operate the dozin lost-and-found board",
		Long:  "Inspect, follow and seed the listings of the dozin lost-and-found board from a terminal.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewListingsCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewEventsCommand(opts))

	return cmd
}

func openConfiguredStore(ctx context.Context) (storage.ListingStore, storage.CloseFunc, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	config.ConfigureLogger(cfg.LogLevel, cfg.LogFormat, nil)
	return storage.OpenListingStore(ctx, cfg)
}

func followConfiguredEvents(ctx context.Context, bindingKey string, handle services.ListingEventHandler) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	config.ConfigureLogger(cfg.LogLevel, cfg.LogFormat, nil)
	if cfg.RabbitMQURL == "" {
		return fmt.Errorf("RABBITMQ_URL is not set")
	}

	consumer, err := services.NewRabbitMQConsumer(cfg.RabbitMQURL, cfg.RabbitMQExchange, bindingKey)
	if err != nil {
		return err
	}
	defer consumer.Close()
	return consumer.Run(ctx, handle)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
