package cli

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"snapvault/internal/archive"
	"snapvault/internal/segment"
)

func newPruneCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune REPO",
		Short: "Prune archives according to a retention policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := parseLocator(args[0])
			if err != nil {
				return err
			}

			keepLast, _ := cmd.Flags().GetInt("keep-last")
			keepHourly, _ := cmd.Flags().GetInt("keep-hourly")
			keepDaily, _ := cmd.Flags().GetInt("keep-daily")
			keepWeekly, _ := cmd.Flags().GetInt("keep-weekly")
			keepMonthly, _ := cmd.Flags().GetInt("keep-monthly")
			keepYearly, _ := cmd.Flags().GetInt("keep-yearly")
			keepWithin, _ := cmd.Flags().GetDuration("keep-within")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			statusList, _ := cmd.Flags().GetBool("list")

			rc, err := openRepoContext(cmd, loc.Repo)
			if err != nil {
				return err
			}
			defer rc.Close()

			manifest, err := rc.Repo.GetManifest()
			if err != nil {
				return fmt.Errorf("load manifest: %w", err)
			}

			keep := pruneSelect(manifest.Archives, pruneRules{
				Last:    keepLast,
				Hourly:  keepHourly,
				Daily:   keepDaily,
				Weekly:  keepWeekly,
				Monthly: keepMonthly,
				Yearly:  keepYearly,
				Within:  keepWithin,
				Now:     time.Now(),
			})

			total := len(manifest.Archives)
			knownArchives := make(map[string]segment.ObjectID, total)
			for name, ref := range manifest.Archives {
				knownArchives[name] = ref.ID
			}

			var removed []string
			for name := range manifest.Archives {
				if keep[name] {
					continue
				}
				removed = append(removed, name)
				if statusList {
					fmt.Printf("prune %s\n", name)
				}
			}
			sort.Strings(removed)
			for _, name := range removed {
				delete(manifest.Archives, name)
			}

			if dryRun || len(removed) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "would prune %d of %d archives\n", len(removed), total)
				return nil
			}

			if err := rc.Repo.PutManifest(manifest); err != nil {
				return fmt.Errorf("update manifest: %w", err)
			}
			if err := rc.Repo.Commit(false, 0); err != nil {
				return fmt.Errorf("commit: %w", err)
			}
			if rc.Cache != nil {
				if err := reclaimChunks(rc, knownArchives, logger); err != nil {
					logger.Warn("cache reclaim after prune failed", "error", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d archives\n", len(removed))
			return nil
		},
	}
	cmd.Flags().Int("keep-last", 0, "keep the N most recent archives")
	cmd.Flags().Int("keep-hourly", 0, "keep the last N hourly archives")
	cmd.Flags().Int("keep-daily", 0, "keep the last N daily archives")
	cmd.Flags().Int("keep-weekly", 0, "keep the last N weekly archives")
	cmd.Flags().Int("keep-monthly", 0, "keep the last N monthly archives")
	cmd.Flags().Int("keep-yearly", 0, "keep the last N yearly archives")
	cmd.Flags().Duration("keep-within", 0, "keep all archives younger than this duration")
	cmd.Flags().Bool("dry-run", false, "show what would be pruned without changing the repository")
	cmd.Flags().Bool("list", false, "print one line per pruned archive")
	return cmd
}

type pruneRules struct {
	Last, Hourly, Daily, Weekly, Monthly, Yearly int
	Within                                       time.Duration
	Now                                          time.Time
}

// pruneSelect implements borg's retention algorithm: archives are sorted
// newest-first, then for each interval bucket (hourly/daily/weekly/
// monthly/yearly) the newest archive falling in each not-yet-seen bucket
// is kept, up to the requested count.
type pruneEntry struct {
	Name string
	Time time.Time
}

func pruneSelect(archives map[string]archive.ArchiveRef, r pruneRules) map[string]bool {
	var sorted []pruneEntry
	for name, ref := range archives {
		sorted = append(sorted, pruneEntry{Name: name, Time: ref.Timestamp})
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.After(sorted[j].Time) })

	keep := make(map[string]bool)

	if r.Within > 0 {
		cutoff := r.Now.Add(-r.Within)
		for _, e := range sorted {
			if e.Time.After(cutoff) {
				keep[e.Name] = true
			}
		}
	}

	for i := 0; i < len(sorted) && i < r.Last; i++ {
		keep[sorted[i].Name] = true
	}

	keepByBucket(sorted, keep, r.Hourly, func(t time.Time) string {
		return t.Format("2006010215")
	})
	keepByBucket(sorted, keep, r.Daily, func(t time.Time) string {
		return t.Format("20060102")
	})
	keepByBucket(sorted, keep, r.Weekly, func(t time.Time) string {
		y, w := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", y, w)
	})
	keepByBucket(sorted, keep, r.Monthly, func(t time.Time) string {
		return t.Format("200601")
	})
	keepByBucket(sorted, keep, r.Yearly, func(t time.Time) string {
		return t.Format("2006")
	})

	if r.Last == 0 && r.Hourly == 0 && r.Daily == 0 && r.Weekly == 0 && r.Monthly == 0 && r.Yearly == 0 && r.Within == 0 {
		for _, e := range sorted {
			keep[e.Name] = true
		}
	}
	return keep
}

func keepByBucket(sorted []pruneEntry, keep map[string]bool, n int, bucketKey func(time.Time) string) {
	if n <= 0 {
		return
	}
	seen := make(map[string]bool)
	kept := 0
	for _, e := range sorted {
		if kept >= n {
			return
		}
		b := bucketKey(e.Time)
		if seen[b] {
			continue
		}
		seen[b] = true
		keep[e.Name] = true
		kept++
	}
}
