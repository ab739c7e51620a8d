package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"snapvault/internal/repoconfig"
	"snapvault/internal/segment"
	"snapvault/internal/storeopen"
)

// newWithLockCmd acquires the repository's exclusive lock, runs an
// arbitrary command while holding it, and releases the lock once the
// command exits — for scripts that need to perform out-of-band
// maintenance (e.g. a filesystem snapshot) with no writer racing them.
func newWithLockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "with-lock REPO COMMAND [ARG...]",
		Short: "Run a command while holding the repository's exclusive lock",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := args[0]
			lockWait, _ := cmd.Flags().GetInt64("lock-wait")

			cfg, err := repoconfig.Load(root)
			if err != nil {
				return fmt.Errorf("load repository config: %w", err)
			}
			store, err := storeopen.Open(context.Background(), root, cfg, nil)
			if err != nil {
				return fmt.Errorf("open segment store: %w", err)
			}

			unlocker, err := store.Lock(context.Background(), segment.LockExclusive, segment.LockWaiter{MaxWait: lockWait * int64(1e9)})
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			defer unlocker.Unlock()

			child := exec.Command(args[1], args[2:]...)
			child.Stdin = os.Stdin
			child.Stdout = os.Stdout
			child.Stderr = os.Stderr
			if err := child.Run(); err != nil {
				return fmt.Errorf("command failed: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().Int64("lock-wait", 10, "seconds to wait for the repository lock")
	return cmd
}
