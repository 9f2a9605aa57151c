package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hacknation/dozin/internal/models"
	"github.com/hacknation/dozin/internal/services"
)

// FilterOptions holds the listing filter flags shared by listings and watch.
type FilterOptions struct {
	Category string
	Cities   []string
}

func (o *FilterOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.Category, "category", "c", "", "only show this category")
	cmd.Flags().StringArrayVar(&o.Cities, "city", nil, "only show these cities (repeatable)")
}

// Filter validates the flags and builds the search filter.
func (o *FilterOptions) Filter() (models.SearchFilter, error) {
	f := models.SearchFilter{}
	if o.Category != "" {
		if !models.IsCategory(o.Category) {
			return f, fmt.Errorf("unknown category %q", o.Category)
		}
		f.Category = o.Category
	}
	for _, c := range o.Cities {
		c = models.NormalizeCity(c)
		if !models.IsCity(c) {
			return f, fmt.Errorf("unknown city %q", c)
		}
		if !f.HasCity(c) {
			f.Cities = append(f.Cities, c)
		}
	}
	return f, nil
}

// NewListingsCommand creates the listings command.
func NewListingsCommand(rootOpts *RootOptions) *cobra.Command {
	filterOpts := &FilterOptions{}

	cmd := &cobra.Command{
		Use:   "listings",
		Short: "Print the current listings, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListings(rootOpts, filterOpts, cmd)
		},
	}
	filterOpts.register(cmd)

	return cmd
}

func runListings(opts *RootOptions, filterOpts *FilterOptions, cmd *cobra.Command) error {
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

	all, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list listings: %w", err)
	}
	matched := services.FilterListings(all, filter)
	formatter.VerboseLog("%d of %d listings match", len(matched), len(all))

	return formatter.Listings(matched)
}
