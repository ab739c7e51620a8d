package cli

import (
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestParseLocator(t *testing.T) {
	cases := []struct {
		spec    string
		repo    string
		archive string
		wantErr bool
	}{
		{spec: "/path/to/repo", repo: "/path/to/repo"},
		{spec: "/path/to/repo::backup-1", repo: "/path/to/repo", archive: "backup-1"},
		{spec: "", wantErr: true},
		{spec: "/path/to/repo::", wantErr: true},
	}
	for _, c := range cases {
		loc, err := parseLocator(c.spec)
		if c.wantErr {
			if err == nil {
				t.Errorf("parseLocator(%q): expected error, got none", c.spec)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseLocator(%q): %v", c.spec, err)
		}
		if loc.Repo != c.repo || loc.Archive != c.archive {
			t.Errorf("parseLocator(%q) = %+v, want {Repo:%q Archive:%q}", c.spec, loc, c.repo, c.archive)
		}
	}
}

func TestExpandArchiveName(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Version = "1.2.3"

	got, err := expandArchiveName(cmd, "nightly-{borgversion}")
	if err != nil {
		t.Fatalf("expandArchiveName: %v", err)
	}
	if want := "nightly-1.2.3"; got != want {
		t.Errorf("expandArchiveName(borgversion) = %q, want %q", got, want)
	}

	got, err = expandArchiveName(cmd, "backup-{pid}")
	if err != nil {
		t.Fatalf("expandArchiveName: %v", err)
	}
	if want := "backup-" + strconv.Itoa(os.Getpid()); got != want {
		t.Errorf("expandArchiveName(pid) = %q, want %q", got, want)
	}

	got, err = expandArchiveName(cmd, "plain-name")
	if err != nil {
		t.Fatalf("expandArchiveName: %v", err)
	}
	if got != "plain-name" {
		t.Errorf("expandArchiveName with no placeholders changed the name: %q", got)
	}

	got, err = expandArchiveName(cmd, "backup-{now}")
	if err != nil {
		t.Fatalf("expandArchiveName: %v", err)
	}
	if strings.Contains(got, "{now}") {
		t.Errorf("expandArchiveName(now) left the placeholder unexpanded: %q", got)
	}
}
