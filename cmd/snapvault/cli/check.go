package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"snapvault/internal/check"
)

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check REPO",
		Short: "Verify repository and archive consistency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := parseLocator(args[0])
			if err != nil {
				return err
			}
			repair, _ := cmd.Flags().GetBool("repair")
			verifyData, _ := cmd.Flags().GetBool("verify-data")
			maxDuration, _ := cmd.Flags().GetDuration("max-duration")

			rc, err := openRepoContext(cmd, loc.Repo)
			if err != nil {
				return err
			}
			defer rc.Close()

			checker := check.New(rc.Repo)
			report, err := checker.Run(check.Options{
				Repair:      repair,
				VerifyData:  verifyData,
				MaxDuration: maxDuration,
			})
			if err != nil {
				return fmt.Errorf("check: %w", err)
			}

			p := newPrinter(outputFormat(cmd))
			if p.format == "json" {
				return p.json(report)
			}

			p.kv([][2]string{
				{"Segments scanned", fmt.Sprintf("%d", report.SegmentsScanned)},
				{"Records verified", fmt.Sprintf("%d", report.RecordsVerified)},
				{"Truncated segments", fmt.Sprintf("%d", len(report.TruncatedSegments))},
				{"Repository complete", fmt.Sprintf("%v", report.RepositoryComplete)},
				{"Archives checked", fmt.Sprintf("%d", len(report.ArchivesChecked))},
				{"Missing chunks", fmt.Sprintf("%d", len(report.MissingChunks))},
				{"Integrity errors", fmt.Sprintf("%d", len(report.IntegrityErrors))},
				{"Repaired chunks", fmt.Sprintf("%d", len(report.RepairedChunks))},
			})
			if report.ManifestError != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "manifest error: %v\n", report.ManifestError)
			}

			if len(report.MissingChunks) > 0 || len(report.IntegrityErrors) > 0 || report.ManifestError != nil {
				if !repair {
					return ErrWarning
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool("repair", false, "attempt to repair problems found (truncate torn segments, rebuild the index)")
	cmd.Flags().Bool("verify-data", false, "decrypt and recompute the id of every referenced chunk")
	cmd.Flags().Duration("max-duration", 0, "stop the repository phase after this long; the next run starts again from the first segment (0: unbounded)")
	return cmd
}
