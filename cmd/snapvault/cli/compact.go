package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCompactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compact REPO",
		Short: "Compact segments, freeing space held by deleted and superseded chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := parseLocator(args[0])
			if err != nil {
				return err
			}
			threshold, _ := cmd.Flags().GetFloat64("threshold")

			rc, err := openRepoContext(cmd, loc.Repo)
			if err != nil {
				return err
			}
			defer rc.Close()

			before := rc.Repo.Len()
			if err := rc.Repo.Commit(true, threshold); err != nil {
				return fmt.Errorf("compact: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "compacted repository (%d live chunks)\n", before)
			return nil
		},
	}
	cmd.Flags().Float64("threshold", 0.1, "minimum fraction of dead space in a segment before it is rewritten")
	return cmd
}
