package safety

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// DangerLevel classifies the destructive potential of an action.
// Levels are totally ordered so the worst of several findings is a max.
type DangerLevel int

const (
	Safe DangerLevel = iota
	Warning
	Dangerous
	Blocked
)

func (d DangerLevel) String() string {
	switch d {
	case Safe:
		return "safe"
	case Warning:
		return "warning"
	case Dangerous:
		return "dangerous"
	case Blocked:
		return "blocked"
	}
	return "unknown"
}

// Finding is the result of classifying a command or script.
type Finding struct {
	Level  DangerLevel
	Reason string
}

func worst(a, b Finding) Finding {
	if b.Level > a.Level {
		return b
	}
	return a
}

// commandTable maps base command names to their danger level.
var commandTable = map[string]DangerLevel{
	// Deletion
	"rm":     Dangerous,
	"rmdir":  Dangerous,
	"shred":  Dangerous,
	"unlink": Dangerous,
	"dd":     Dangerous,

	// System, user management, disk and power control
	"shutdown": Blocked,
	"reboot":   Blocked,
	"poweroff": Blocked,
	"halt":     Blocked,
	"init":     Blocked,
	"mkfs":     Blocked,
	"fdisk":    Blocked,
	"parted":   Blocked,
	"mkswap":   Blocked,
	"useradd":  Blocked,
	"userdel":  Blocked,
	"usermod":  Blocked,
	"groupdel": Blocked,
	"passwd":   Blocked,
	"chpasswd": Blocked,

	// Permissions and process signals
	"chmod":    Warning,
	"chown":    Warning,
	"chgrp":    Warning,
	"kill":     Warning,
	"killall":  Warning,
	"pkill":    Warning,
	"truncate": Warning,
	"mv":       Warning,
}

// escalationFlags make an already-dangerous command worse. The level stays
// the same but the reason gets specific.
var escalationFlags = map[string]string{
	"-r":          "recursive",
	"-R":          "recursive",
	"--recursive": "recursive",
	"-f":          "forced",
	"--force":     "forced",
	"-rf":         "recursive forced",
	"-fr":         "recursive forced",
}

// shapePatterns flag dangerous command shapes regardless of which command
// triggers them.
var shapePatterns = []struct {
	re     *regexp.Regexp
	level  DangerLevel
	reason string
}{
	{regexp.MustCompile(`\brm\s+(-\w+\s+)*-\w*[rR]\w*f|\brm\s+(-\w+\s+)*-\w*f\w*[rR]`), Dangerous, "recursive forced deletion"},
	{regexp.MustCompile(`\brm\s+(-\w+\s+)*/\s*$|\brm\s+(-\w+\s+)*/\s`), Blocked, "deletion of the filesystem root"},
	{regexp.MustCompile(`\brm\s+(-\w+\s+)*[^\s]*\*`), Dangerous, "wildcard deletion"},
	{regexp.MustCompile(`\brm\s+(-\w+\s+)*~/`), Dangerous, "deletion under the home directory"},
	{regexp.MustCompile(`>\s*/dev/sd[a-z]`), Dangerous, "writing to a raw disk device"},
	{regexp.MustCompile(`>\s*~/[^\s]+`), Warning, "overwriting a file in the home directory via redirection"},
	{regexp.MustCompile(`\b(curl|wget)\b[^|]*\|\s*(sudo\s+)?(sh|bash|zsh|python3?)\b`), Dangerous, "piping a download into a shell interpreter"},
}

// CommandAnalyzer is a pure, stateless classifier for shell commands and
// agent-authored scripts.
type CommandAnalyzer struct{}

func NewCommandAnalyzer() *CommandAnalyzer {
	return &CommandAnalyzer{}
}

// ClassifyCommand classifies a shell command line. Piped commands are split
// and each stage classified; the worst stage wins.
func (a *CommandAnalyzer) ClassifyCommand(command string) Finding {
	command = strings.TrimSpace(command)
	if command == "" {
		return Finding{Level: Safe, Reason: "empty command"}
	}

	result := Finding{Level: Safe, Reason: "no dangerous pattern detected"}

	// Shape patterns apply to the whole line, pipes and all.
	for _, p := range shapePatterns {
		if p.re.MatchString(command) {
			result = worst(result, Finding{Level: p.level, Reason: p.reason})
		}
	}

	for _, stage := range splitPipeline(command) {
		result = worst(result, a.classifyStage(stage))
	}

	return result
}

func (a *CommandAnalyzer) classifyStage(stage string) Finding {
	tokens, err := tokenize(stage)
	if err != nil {
		return Finding{Level: Warning, Reason: fmt.Sprintf("could not parse command safely: %v", err)}
	}
	if len(tokens) == 0 {
		return Finding{Level: Safe, Reason: "empty command"}
	}

	base := filepath.Base(tokens[0])

	// sudo amplifies whatever it wraps.
	if base == "sudo" || base == "doas" {
		inner := a.classifyStage(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(stage), tokens[0])))
		if inner.Level >= Dangerous {
			return Finding{Level: Blocked, Reason: fmt.Sprintf("privileged execution of a dangerous command: %s", inner.Reason)}
		}
		return worst(inner, Finding{Level: Warning, Reason: "privileged execution"})
	}

	// mkfs.ext4 and friends share mkfs's entry.
	if idx := strings.Index(base, "."); idx > 0 {
		if lvl, ok := commandTable[base[:idx]]; ok {
			return Finding{Level: lvl, Reason: fmt.Sprintf("'%s' is a restricted command", base)}
		}
	}

	lvl, ok := commandTable[base]
	if !ok {
		return Finding{Level: Safe, Reason: "no dangerous pattern detected"}
	}

	finding := Finding{Level: lvl, Reason: fmt.Sprintf("'%s' is a restricted command", base)}
	if lvl == Dangerous {
		for _, tok := range tokens[1:] {
			if mod, esc := escalationFlags[tok]; esc {
				finding.Reason = fmt.Sprintf("'%s' with %s flag", base, mod)
				break
			}
		}
	}
	return finding
}

// splitPipeline splits a command on unquoted pipe characters.
func splitPipeline(command string) []string {
	var stages []string
	var cur strings.Builder
	var quote rune
	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			cur.WriteRune(r)
		case r == '|':
			stages = append(stages, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	stages = append(stages, cur.String())
	return stages
}

// tokenize splits a command into shell-like tokens. Unterminated quotes are
// an error so callers can fall back to a conservative classification.
func tokenize(s string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	var quote rune
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	flush()
	return tokens, nil
}

// scriptPatterns match destructive call shapes in agent-authored Python.
var scriptPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`shutil\.rmtree\s*\(`), "recursive directory removal"},
	{regexp.MustCompile(`os\.remove\s*\(|os\.unlink\s*\(`), "file deletion"},
	{regexp.MustCompile(`os\.rmdir\s*\(|os\.removedirs\s*\(`), "directory deletion"},
	{regexp.MustCompile(`\.unlink\s*\(\s*\)|\.rmdir\s*\(\s*\)`), "path deletion"},
	{regexp.MustCompile(`send2trash\s*\(`), "moving files to trash"},
}

// shellOutPattern catches scripts that shell out with an embedded command
// string; the embedded command inherits its table classification.
var shellOutPattern = regexp.MustCompile(`(?:os\.system|subprocess\.(?:run|call|check_output|check_call|Popen))\s*\(\s*(?:f?["']([^"']+)["'])?`)

// ClassifyScript classifies a script body against known destructive shapes.
func (a *CommandAnalyzer) ClassifyScript(code string) Finding {
	result := Finding{Level: Safe, Reason: "no dangerous pattern detected"}

	for _, p := range scriptPatterns {
		if p.re.MatchString(code) {
			result = worst(result, Finding{Level: Dangerous, Reason: p.reason})
		}
	}

	for _, m := range shellOutPattern.FindAllStringSubmatch(code, -1) {
		if len(m) > 1 && m[1] != "" {
			embedded := a.ClassifyCommand(m[1])
			if embedded.Level > Safe {
				result = worst(result, Finding{
					Level:  embedded.Level,
					Reason: fmt.Sprintf("script shells out to a restricted command: %s", embedded.Reason),
				})
			}
		}
	}

	return result
}
