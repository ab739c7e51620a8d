// Package pattern implements the path-matching pattern language used
// by include/exclude rules: fm (fnmatch-style), sh (shell globs with
// **), re (regular expressions), pp (path prefix), and pf (exact path).
package pattern

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Kind identifies which matcher a pattern uses.
type Kind int

const (
	KindFnmatch Kind = iota
	KindShell
	KindRegexp
	KindPrefix
	KindExact
)

// Action is what a rule does with a matching path.
type Action int

const (
	ActionInclude Action = iota
	ActionExclude
	ActionExcludeNoRecurse
)

// Matcher is a single compiled pattern plus the action to take on a match.
type Matcher struct {
	Action Action
	kind   Kind
	raw    string
	re     *regexp.Regexp
}

// ErrUnknownPrefix is returned when a pattern uses a prefix other than
// fm:, sh:, re:, pp:, or pf: (and isn't a bare fnmatch default).
var ErrUnknownPrefix = fmt.Errorf("pattern: unknown prefix")

// Compile parses one pattern line, e.g. "sh:**/*.log" or "pp:/var/cache",
// returning a Matcher set to ActionInclude; callers set Action
// afterward for exclude rules.
func Compile(spec string) (*Matcher, error) {
	kind, raw, err := splitPrefix(spec)
	if err != nil {
		return nil, err
	}
	m := &Matcher{kind: kind, raw: raw}
	if kind == KindRegexp {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("pattern: compile regexp %q: %w", raw, err)
		}
		m.re = re
	}
	return m, nil
}

func splitPrefix(spec string) (Kind, string, error) {
	switch {
	case strings.HasPrefix(spec, "fm:"):
		return KindFnmatch, spec[3:], nil
	case strings.HasPrefix(spec, "sh:"):
		return KindShell, spec[3:], nil
	case strings.HasPrefix(spec, "re:"):
		return KindRegexp, spec[3:], nil
	case strings.HasPrefix(spec, "pp:"):
		return KindPrefix, spec[3:], nil
	case strings.HasPrefix(spec, "pf:"):
		return KindExact, spec[3:], nil
	default:
		return KindFnmatch, spec, nil
	}
}

// Match reports whether path matches the compiled pattern.
func (m *Matcher) Match(path string) bool {
	switch m.kind {
	case KindFnmatch:
		ok, _ := filepath.Match(m.raw, path)
		if ok {
			return true
		}
		// Also try matching against the path's base name, the common
		// fnmatch-style shorthand for "anywhere in the tree".
		ok, _ = filepath.Match(m.raw, filepath.Base(path))
		return ok
	case KindShell:
		ok, _ := doublestar.Match(m.raw, strings.TrimPrefix(path, "/"))
		return ok
	case KindRegexp:
		return m.re.MatchString(path)
	case KindPrefix:
		return path == m.raw || strings.HasPrefix(path, strings.TrimSuffix(m.raw, "/")+"/")
	case KindExact:
		return path == m.raw
	default:
		return false
	}
}

// RuleSet is an ordered list of matchers evaluated first-match-wins.
type RuleSet struct {
	rules []*Matcher
}

// NewRuleSet builds a RuleSet from specs, where a spec prefixed with
// "-" or "!" is an exclude rule, "--no-recurse:" marks
// exclude-no-recurse, and anything else is an include rule.
func NewRuleSet(specs []string) (*RuleSet, error) {
	rs := &RuleSet{}
	for _, spec := range specs {
		action := ActionInclude
		switch {
		case strings.HasPrefix(spec, "--no-recurse:"):
			action = ActionExcludeNoRecurse
			spec = spec[len("--no-recurse:"):]
		case strings.HasPrefix(spec, "-") || strings.HasPrefix(spec, "!"):
			action = ActionExclude
			spec = spec[1:]
		}
		m, err := Compile(spec)
		if err != nil {
			return nil, err
		}
		m.Action = action
		rs.rules = append(rs.rules, m)
	}
	return rs, nil
}

// Evaluate returns the action of the first rule matching path, or
// ActionInclude if no rule matches (the default: back up everything
// not explicitly excluded).
func (rs *RuleSet) Evaluate(path string) Action {
	for _, m := range rs.rules {
		if m.Match(path) {
			return m.Action
		}
	}
	return ActionInclude
}
