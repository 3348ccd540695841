package config

import (
	"os"
	"regexp"
)

// Matches ${VAR} and ${VAR:-default}.
var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnvWithDefaults expands ${VAR} and ${VAR:-default} references in s.
// Unset or empty variables resolve to the default, or to the empty string
// when no default is given. Applied to config files before YAML parsing so
// secrets stay out of files on disk.
func ExpandEnvWithDefaults(s string) string {
	return envRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
		groups := envRefPattern.FindStringSubmatch(ref)
		name, fallback := groups[1], groups[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return fallback
	})
}
