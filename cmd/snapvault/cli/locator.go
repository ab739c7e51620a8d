package cli

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// locator splits a "repo::archive" argument the way every archive-scoped
// subcommand (create, extract, list, info, diff, rename, delete) accepts
// them, mirroring borg's own `REPOSITORY::ARCHIVE` syntax.
type locator struct {
	Repo    string
	Archive string
}

// parseLocator splits spec on "::"; the archive half is optional (bare
// "repo" locators are valid for repo-level commands like list/check).
func parseLocator(spec string) (locator, error) {
	if spec == "" {
		return locator{}, fmt.Errorf("empty repository locator")
	}
	parts := strings.SplitN(spec, "::", 2)
	if len(parts) == 1 {
		return locator{Repo: parts[0]}, nil
	}
	if parts[1] == "" {
		return locator{}, fmt.Errorf("%q: archive name after :: must not be empty", spec)
	}
	return locator{Repo: parts[0], Archive: parts[1]}, nil
}

func requireArchive(loc locator) error {
	if loc.Archive == "" {
		return fmt.Errorf("%q: an archive name is required (repo::archive)", loc.Repo)
	}
	return nil
}

// expandArchiveName substitutes the borg-style placeholders an archive
// name may contain when naming a new archive (create/recreate). An
// existing archive's name is always taken literally, since these
// placeholders are resolved once, at creation time, and stored as-is.
func expandArchiveName(cmd *cobra.Command, name string) (string, error) {
	replacements := []struct {
		token string
		value func() (string, error)
	}{
		{"{now}", func() (string, error) { return time.Now().Format("2006-01-02T15:04:05"), nil }},
		{"{hostname}", func() (string, error) { return os.Hostname() }},
		{"{fqdn}", func() (string, error) { return os.Hostname() }},
		{"{pid}", func() (string, error) { return strconv.Itoa(os.Getpid()), nil }},
		{"{user}", func() (string, error) {
			u, err := user.Current()
			if err != nil {
				return "", err
			}
			return u.Username, nil
		}},
		{"{borgversion}", func() (string, error) { return cmd.Root().Version, nil }},
	}

	out := name
	for _, r := range replacements {
		if !strings.Contains(out, r.token) {
			continue
		}
		value, err := r.value()
		if err != nil {
			return "", fmt.Errorf("expand %s in archive name: %w", r.token, err)
		}
		out = strings.ReplaceAll(out, r.token, value)
	}
	return out, nil
}
