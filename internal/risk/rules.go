package risk

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// escalationPattern pairs a compiled pattern with the reason fragment
// reported when it matches. Patterns are checked in order; the first
// match governs.
type escalationPattern struct {
	re     *regexp.Regexp
	reason string
}

// escalationPatterns match command-injection and obfuscation shapes in
// string arguments. Any match forces L3 regardless of the action's
// registered default level.
var escalationPatterns = []escalationPattern{
	{regexp.MustCompile(`\$\(`), "shell command substitution"},
	{regexp.MustCompile("`[^`]*`"), "backtick command substitution"},
	{regexp.MustCompile(`(?i)(^|[\s;|&/])curl(\s|$)`), "network fetch via curl"},
	{regexp.MustCompile(`(?i)(^|[\s;|&/])wget(\s|$)`), "network fetch via wget"},
	{regexp.MustCompile(`(?i)python[\w.]*\s+-c\s+.*(urllib|requests|socket|http)`), "python one-liner with network I/O"},
	{regexp.MustCompile(`(?i)node(js)?\s+(-e|--eval)\s+.*(fetch|https?|net\.)`), "node one-liner with network I/O"},
	{regexp.MustCompile(`(?i)base64\s+(-d|--decode|-D)`), "base64 decode pipeline"},
	{regexp.MustCompile(`(?i)echo\s+[A-Za-z0-9+/=]{24,}.*\|\s*base64`), "base64 payload pipeline"},
	{regexp.MustCompile(`(?i)chmod\s+\+x`), "stage-then-execute via chmod +x"},
	{regexp.MustCompile(`<\(|>\(|<<<`), "process substitution"},
	{regexp.MustCompile(`(?i)(^|[\s;|&])sudo\s`), "privilege escalation via sudo"},
	{regexp.MustCompile(`(?i)rm\s+(-[a-z]*r[a-z]*f[a-z]*|-[a-z]*f[a-z]*r[a-z]*|-r\s+-f|-f\s+-r)`), "recursive forced deletion"},
	{regexp.MustCompile(`(?i)--no-preserve-root`), "root safeguard disabled"},
	{regexp.MustCompile(`(?i)git\s+push\s+.*(--force\b|--force-with-lease\b|\s-f\b)`), "forced git history rewrite"},
	{regexp.MustCompile(`(?i)\bmkfs\b|\bdd\s+if=`), "raw device or filesystem overwrite"},
}

// sensitiveDotfiles are home-directory locations whose modification or
// disclosure is treated as irreversible/exfiltration-capable.
var sensitiveDotfiles = []string{
	".env", ".ssh", ".aws", ".gnupg", ".netrc",
	".git-credentials", ".npmrc", ".pgpass", ".kube",
}

// projectConfigFiles are configuration files whose modification affects
// how a project builds, lints, or deploys.
var projectConfigFiles = map[string]struct{}{
	"package.json":       {},
	"package-lock.json":  {},
	"go.mod":             {},
	"go.sum":             {},
	"cargo.toml":         {},
	"pyproject.toml":     {},
	"requirements.txt":   {},
	"gemfile":            {},
	"pom.xml":            {},
	"build.gradle":       {},
	"dockerfile":         {},
	"docker-compose.yml": {},
	"docker-compose.yaml": {},
	"makefile":           {},
	"tsconfig.json":      {},
	".gitlab-ci.yml":     {},
}

var projectConfigPrefixes = []string{
	".eslintrc", ".prettierrc", ".golangci", ".babelrc", ".editorconfig",
}

// matchEscalation returns the first escalation pattern matching any
// string argument, either from the global set or the action's own.
func matchEscalation(args map[string]any, def *ActionDefinition) (string, bool) {
	for _, value := range stringArgs(args) {
		for _, pat := range escalationPatterns {
			if pat.re.MatchString(value) {
				return pat.reason, true
			}
		}
		if def != nil {
			for _, re := range def.Escalations {
				if re.MatchString(value) {
					return fmt.Sprintf("matched action pattern %s", re.String()), true
				}
			}
		}
	}
	return "", false
}

// classifyPath maps a path argument to a level based on location
// sensitivity. Returns LevelUnknown when the path carries no signal.
func classifyPath(path string) (Level, string) {
	cleaned := filepath.ToSlash(strings.TrimSpace(path))
	if cleaned == "" {
		return LevelUnknown, ""
	}

	lower := strings.ToLower(cleaned)
	base := strings.ToLower(filepath.Base(cleaned))

	for _, dotfile := range sensitiveDotfiles {
		if base == dotfile || strings.HasPrefix(base, dotfile+".") ||
			strings.Contains(lower, "/"+dotfile+"/") || strings.HasSuffix(lower, "/"+dotfile) {
			return L3, fmt.Sprintf("sensitive location %s", dotfile)
		}
	}

	if _, ok := projectConfigFiles[base]; ok {
		return L2, fmt.Sprintf("project configuration file %s", base)
	}
	for _, prefix := range projectConfigPrefixes {
		if strings.HasPrefix(base, prefix) {
			return L2, fmt.Sprintf("project configuration file %s", base)
		}
	}
	if strings.Contains(lower, ".github/workflows/") {
		return L2, "CI workflow file"
	}

	return LevelUnknown, ""
}

// stringArgs flattens string-valued arguments in a stable order.
func stringArgs(args map[string]any) []string {
	if len(args) == 0 {
		return nil
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]string, 0, len(args))
	for _, k := range keys {
		if s, ok := args[k].(string); ok && s != "" {
			values = append(values, s)
		}
	}
	return values
}
