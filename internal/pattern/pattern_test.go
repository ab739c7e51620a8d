package pattern

import "testing"

func TestFnmatchMatch(t *testing.T) {
	m, err := Compile("fm:*.log")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !m.Match("app.log") {
		t.Error("expected app.log to match *.log")
	}
	if m.Match("app.txt") {
		t.Error("app.txt should not match *.log")
	}
}

func TestShellDoubleStarMatch(t *testing.T) {
	m, err := Compile("sh:**/*.log")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !m.Match("/var/log/deep/nested/app.log") {
		t.Error("expected nested path to match **/*.log")
	}
	if m.Match("/var/log/app.txt") {
		t.Error("app.txt should not match")
	}
}

func TestRegexpMatch(t *testing.T) {
	m, err := Compile(`re:^/home/[^/]+/\.cache/`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !m.Match("/home/alice/.cache/thumbnails") {
		t.Error("expected match")
	}
	if m.Match("/home/alice/docs") {
		t.Error("should not match")
	}
}

func TestPrefixMatch(t *testing.T) {
	m, err := Compile("pp:/var/cache")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !m.Match("/var/cache/apt/archives") {
		t.Error("expected prefix match")
	}
	if !m.Match("/var/cache") {
		t.Error("expected exact prefix itself to match")
	}
	if m.Match("/var/cached-stuff") {
		t.Error("should not match on partial segment overlap")
	}
}

func TestExactMatch(t *testing.T) {
	m, err := Compile("pf:/etc/fstab")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !m.Match("/etc/fstab") {
		t.Error("expected exact match")
	}
	if m.Match("/etc/fstab.bak") {
		t.Error("should not match a different path")
	}
}

func TestRuleSetFirstMatchWins(t *testing.T) {
	rs, err := NewRuleSet([]string{
		"-pp:/var/cache",
		"pp:/var/cache/keep-this",
		"--no-recurse:pp:/proc",
	})
	if err != nil {
		t.Fatalf("NewRuleSet: %v", err)
	}
	if rs.Evaluate("/var/cache/keep-this/file") != ActionExclude {
		t.Error("first matching rule (exclude) should win even though a later include rule also matches")
	}
	if rs.Evaluate("/proc/1/status") != ActionExcludeNoRecurse {
		t.Error("expected exclude-no-recurse for /proc")
	}
	if rs.Evaluate("/home/alice/file") != ActionInclude {
		t.Error("unmatched path should default to include")
	}
}

func TestUnprefixedDefaultsToFnmatch(t *testing.T) {
	m, err := Compile("*.tmp")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !m.Match("build.tmp") {
		t.Error("expected unprefixed pattern to default to fnmatch semantics")
	}
}
