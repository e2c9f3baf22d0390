package config

import (
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} with environment values.
// An unset or empty variable takes the default, or expands to "" when
// there is none; a missing session credential is caught by Validate.
func ExpandEnv(input string) string {
	matches := envVarPattern.FindAllStringSubmatchIndex(input, -1)
	if len(matches) == 0 {
		return input
	}

	var b strings.Builder
	b.Grow(len(input))
	last := 0
	for _, m := range matches {
		b.WriteString(input[last:m[0]])
		name := input[m[2]:m[3]]
		if v, ok := os.LookupEnv(name); ok && v != "" {
			b.WriteString(v)
		} else if m[4] >= 0 {
			b.WriteString(input[m[4]:m[5]])
		}
		last = m[1]
	}
	b.WriteString(input[last:])
	return b.String()
}
