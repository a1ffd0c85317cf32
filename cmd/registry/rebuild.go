package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ougirez/cmregistry/internal/service/locationgroup"
)

var (
	batchSize  int
	resumeFrom string

	rebuildCmd = &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild location groups from raw components",
		Long: `Folds every component into its location group, batch by batch in location order.
Exits 2 when some locations or components were skipped; the report lists them.`,
		Args: cobra.NoArgs,
		RunE: runRebuild,
	}
)

func init() {
	rebuildCmd.Flags().IntVar(&batchSize, "batch-size", locationgroup.DefaultBatchSize, "locations per batch")
	rebuildCmd.Flags().StringVar(&resumeFrom, "resume-from", "", "start at this location key; pruning is skipped")
}

func runRebuild(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	d, err := connect(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	gate := locationgroup.NewGate(d.store, d.governor, nil)
	svc := locationgroup.NewLocationGroupService(d.store, d.governor, gate, nil)

	report, err := svc.Rebuild(ctx, locationgroup.RebuildOpts{BatchSize: batchSize, ResumeFrom: resumeFrom})
	if report != nil {
		if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}

	if report.Partial() {
		return &exitError{
			code: exitPartial,
			err:  fmt.Errorf("rebuild partial: %d locations and %d components skipped", len(report.SkippedLocations), report.SkippedComponents),
		}
	}
	return nil
}
