package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/landrecord-scraper/internal/refdata"
)

// newDistrictsCmd lists the districts and talukas of the reference file.
func newDistrictsCmd() *cobra.Command {
	var withTalukas bool
	cmd := &cobra.Command{
		Use:   "districts",
		Short: "List the districts a run can target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			ref, err := refdata.Load(rt.cfg.Reference.Path)
			if err != nil {
				return fmt.Errorf("load reference data: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, d := range ref.Districts() {
				fmt.Fprintf(tw, "%s\t%s\n", d.Code, d.Name)
				if !withTalukas {
					continue
				}
				talukas, err := ref.ListTalukas(cmd.Context(), d.Code)
				if err != nil {
					return fmt.Errorf("list talukas of %s: %w", d.Code, err)
				}
				for _, t := range talukas {
					fmt.Fprintf(tw, "  %s\t%s\n", t.Code, t.Name)
				}
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&withTalukas, "talukas", false, "also list each district's talukas")
	return cmd
}
