package worktree

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// IgnoreFile is the per-worktree ignore list, read from the worktree root.
const IgnoreFile = ".vesselignore"

// Ignore decides which worktree paths are invisible to staging and status.
// Patterns follow the familiar gitignore subset: "#" comments, "!"
// negation, a trailing "/" for directories only, "*", "?" and "**" globs.
// The last matching pattern wins.
type Ignore struct {
	always   []string
	patterns []ignorePattern
}

type ignorePattern struct {
	glob     string
	negated  bool
	dirOnly  bool
	anchored bool // contains a slash: matched against the full path
	re       *regexp.Regexp
}

// LoadIgnore reads root/IgnoreFile if present. Paths under any of the
// always directories are ignored regardless of the file's contents.
func LoadIgnore(root string, always ...string) *Ignore {
	ig := &Ignore{always: always}
	f, err := os.Open(filepath.Join(root, IgnoreFile))
	if err != nil {
		return ig
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if p, ok := parseIgnoreLine(sc.Text()); ok {
			ig.patterns = append(ig.patterns, p)
		}
	}
	return ig
}

// NewIgnore builds an Ignore from pattern lines.
func NewIgnore(lines []string, always ...string) *Ignore {
	ig := &Ignore{always: always}
	for _, line := range lines {
		if p, ok := parseIgnoreLine(line); ok {
			ig.patterns = append(ig.patterns, p)
		}
	}
	return ig
}

func parseIgnoreLine(line string) (ignorePattern, bool) {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return ignorePattern{}, false
	}
	var p ignorePattern
	if rest, ok := strings.CutPrefix(line, "!"); ok {
		p.negated = true
		line = rest
	}
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	line = strings.TrimPrefix(line, "/")
	if line == "" {
		return ignorePattern{}, false
	}
	p.anchored = strings.Contains(line, "/")
	p.glob = line
	if strings.Contains(line, "**") {
		if re, err := regexp.Compile(globToRegexp(line)); err == nil {
			p.re = re
		}
	}
	return p, true
}

// Match reports whether rel (slash-separated, relative to the root) is
// ignored. isDir tells directory-only patterns whether rel itself is a
// directory; its ancestors are always treated as directories.
func (ig *Ignore) Match(rel string, isDir bool) bool {
	for _, dir := range ig.always {
		if rel == dir || strings.HasPrefix(rel, dir+"/") {
			return true
		}
	}

	ignored := false
	for _, p := range ig.patterns {
		if p.matches(rel, isDir) {
			ignored = !p.negated
		}
	}
	return ignored
}

func (p ignorePattern) matches(rel string, isDir bool) bool {
	// A pattern naming a directory also covers everything beneath it.
	for dir := path.Dir(rel); dir != "."; dir = path.Dir(dir) {
		if p.matchOne(dir) {
			return true
		}
	}
	if p.dirOnly && !isDir {
		return false
	}
	return p.matchOne(rel)
}

func (p ignorePattern) matchOne(rel string) bool {
	target := rel
	if !p.anchored {
		target = path.Base(rel)
	}
	if p.re != nil {
		return p.re.MatchString(target)
	}
	ok, _ := path.Match(p.glob, target)
	return ok
}

func globToRegexp(glob string) string {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(glob); i++ {
		switch ch := glob[i]; {
		case ch == '*' && strings.HasPrefix(glob[i:], "**/"):
			b.WriteString("(?:.*/)?")
			i += 2
		case ch == '*' && strings.HasPrefix(glob[i:], "**"):
			b.WriteString(".*")
			i++
		case ch == '*':
			b.WriteString("[^/]*")
		case ch == '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	b.WriteString("$")
	return b.String()
}
