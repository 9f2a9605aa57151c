package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hacknation/dozin/internal/models"
)

// EventLine is one line of events output in JSON format.
type EventLine struct {
	RoutingKey string                     `json:"routing_key"`
	Event      models.ListingCreatedEvent `json:"event"`
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	var bindingKey string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print listing events published on the message broker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(rootOpts, bindingKey, cmd)
		},
	}
	cmd.Flags().StringVar(&bindingKey, "binding", "listing.*", "routing key pattern to follow")

	return cmd
}

func runEvents(opts *RootOptions, bindingKey string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	formatter.VerboseLog("following %s", bindingKey)

	enc := json.NewEncoder(formatter.Writer)
	return opts.FollowEvents(cmd.Context(), bindingKey, func(key string, e models.ListingCreatedEvent) error {
		if formatter.Format == "json" {
			return enc.Encode(EventLine{RoutingKey: key, Event: e})
		}
		_, err := fmt.Fprintf(formatter.Writer, "%s  %s  %s  %s  %s  images=%d\n",
			e.Timestamp.Format("2006-01-02 15:04:05"), key, e.ID, e.Category, e.City, e.ImageCount)
		return err
	})
}
