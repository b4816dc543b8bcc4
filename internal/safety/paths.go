package safety

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// AccessLevel classifies a filesystem path's permission status. Sensitive
// and Denied are terminal: no confirmation can override them.
type AccessLevel int

const (
	Allowed AccessLevel = iota
	NeedsConfirmation
	Denied
	Sensitive
)

func (a AccessLevel) String() string {
	switch a {
	case Allowed:
		return "allowed"
	case NeedsConfirmation:
		return "needs_confirmation"
	case Denied:
		return "denied"
	case Sensitive:
		return "sensitive"
	}
	return "unknown"
}

// sensitivePatterns is fixed and non-configurable. "**" matches any number
// of path segments.
var sensitivePatterns = []string{
	"~/.ssh/**",
	"~/.ssh",
	"~/.gnupg/**",
	"~/.gnupg",
	"~/.aws/**",
	"~/.config/gcloud/**",
	"~/.kube/**",
	"/etc/passwd",
	"/etc/shadow",
	"/etc/sudoers",
	"/etc/sudoers.d/**",
	"**/id_rsa*",
	"**/id_ed25519*",
	"**/*.pem",
	"**/*.key",
	"**/.env",
	"**/.env.*",
	"**/secrets*",
	"**/credentials*",
}

// safeSpecialPaths never trigger a permission prompt.
var safeSpecialPaths = map[string]bool{
	"/dev/null":   true,
	"/dev/stdin":  true,
	"/dev/stdout": true,
	"/dev/stderr": true,
	"/dev/zero":   true,
	"/dev/random": true,
	"/dev/urandom": true,
	"/dev/tty":    true,
}

// PermissionChecker classifies paths against user-configured allow and deny
// lists plus the hard-coded sensitive patterns.
type PermissionChecker struct {
	AllowedPaths        []string
	DeniedPaths         []string
	RequireConfirmation bool

	home string
}

func NewPermissionChecker(allowed, denied []string, requireConfirmation bool) *PermissionChecker {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/"
	}
	return &PermissionChecker{
		AllowedPaths:        allowed,
		DeniedPaths:         denied,
		RequireConfirmation: requireConfirmation,
		home:                home,
	}
}

// CheckPath classifies a single path. Layering is strict and short-circuits:
// sensitive patterns, then denied paths, then allowed paths, then defaults.
func (p *PermissionChecker) CheckPath(path string) AccessLevel {
	abs := p.expand(path)

	for _, pattern := range sensitivePatterns {
		if matchPattern(p.expand(pattern), abs) {
			return Sensitive
		}
	}

	for _, d := range p.DeniedPaths {
		dp := p.expand(d)
		if isSubpath(dp, abs) || matchPattern(dp, abs) {
			return Denied
		}
	}

	if len(p.AllowedPaths) > 0 {
		for _, a := range p.AllowedPaths {
			if isSubpath(p.expand(a), abs) {
				return Allowed
			}
		}
		if p.RequireConfirmation {
			return NeedsConfirmation
		}
		return Allowed
	}

	// No allow-list configured: home and temp directories are fine by
	// default, anything else needs a human when confirmation is on.
	if isSubpath(p.home, abs) || isSubpath(os.TempDir(), abs) || isSubpath("/tmp", abs) {
		return Allowed
	}
	if p.RequireConfirmation {
		return NeedsConfirmation
	}
	return Allowed
}

// CheckCommand extracts every path-looking token from a command line and
// returns the worst classification found.
func (p *PermissionChecker) CheckCommand(command string) (AccessLevel, string) {
	level := Allowed
	worstPath := ""
	for _, path := range ExtractPaths(command) {
		got := p.CheckPath(path)
		if got > level {
			level = got
			worstPath = path
		}
	}
	return level, worstPath
}

func (p *PermissionChecker) expand(path string) string {
	if path == "~" {
		return p.home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(p.home, path[2:])
	}
	if !filepath.IsAbs(path) && !strings.Contains(path, "*") {
		return filepath.Clean(filepath.Join(p.home, path))
	}
	return filepath.Clean(path)
}

// isSubpath reports whether candidate is base or lives under base.
func isSubpath(base, candidate string) bool {
	base = filepath.Clean(base)
	candidate = filepath.Clean(candidate)
	if base == candidate {
		return true
	}
	return strings.HasPrefix(candidate, base+string(filepath.Separator))
}

// matchPattern matches a path against a glob where "**" crosses directory
// boundaries and "*" stays within one segment.
func matchPattern(pattern, path string) bool {
	var sb strings.Builder
	sb.WriteString("^")
	i := 0
	for i < len(pattern) {
		switch {
		case strings.HasPrefix(pattern[i:], "**/"):
			sb.WriteString(`(?:.*/)?`)
			i += 3
		case strings.HasPrefix(pattern[i:], "**"):
			sb.WriteString(`.*`)
			i += 2
		case pattern[i] == '*':
			sb.WriteString(`[^/]*`)
			i++
		default:
			sb.WriteString(regexp.QuoteMeta(string(pattern[i])))
			i++
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return false
	}
	if re.MatchString(path) {
		return true
	}
	// A pattern for a directory also covers everything under it.
	if !strings.HasSuffix(pattern, "*") {
		return isSubpath(pattern, path)
	}
	return false
}

var pathToken = regexp.MustCompile(`(?:~/[^\s'"|;&]*|~|/(?:[^\s'"|;&]+)?|\.\./[^\s'"|;&]*)`)
var redirectTarget = regexp.MustCompile(`>>?\s*([^\s'"|;&]+)`)

// ExtractPaths pulls absolute, home-relative and parent-relative paths plus
// redirection targets out of a free-form command string. Known-safe device
// paths and bare flags are excluded so they never prompt.
func ExtractPaths(command string) []string {
	seen := make(map[string]bool)
	var paths []string
	add := func(p string) {
		p = strings.TrimRight(p, ".,;:")
		if p == "" || strings.HasPrefix(p, "-") {
			return
		}
		if safeSpecialPaths[p] {
			return
		}
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	for _, m := range redirectTarget.FindAllStringSubmatch(command, -1) {
		add(m[1])
	}
	for _, m := range pathToken.FindAllString(command, -1) {
		add(m)
	}
	return paths
}
