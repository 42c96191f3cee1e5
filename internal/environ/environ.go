// Package environ holds an immutable snapshot of the build environment and
// expands variable references against it.
package environ

import (
	"maps"
	"os"
	"regexp"
	"strings"
)

// reference matches $NAME, ${NAME} and the $$ escape.
var reference = regexp.MustCompile(`\$([A-Za-z0-9_]+|\{[A-Za-z0-9_.]+\}|\$)`)

// Environ maps variable names to values.
type Environ map[string]string

// FromOS captures the current process environment.
func FromOS() Environ {
	return FromList(os.Environ())
}

// FromList parses KEY=VALUE pairs. Entries without '=' are ignored.
func FromList(pairs []string) Environ {
	env := make(Environ, len(pairs))

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			continue
		}

		env[key] = value
	}

	return env
}

// With returns a copy extended with the given overrides.
func (e Environ) With(overrides map[string]string) Environ {
	out := make(Environ, len(e)+len(overrides))
	maps.Copy(out, e)
	maps.Copy(out, overrides)

	return out
}

// Lookup returns the value of name and whether it is set.
func (e Environ) Lookup(name string) (string, bool) {
	value, ok := e[name]

	return value, ok
}

// Get returns the value of name or def when it is not set.
func (e Environ) Get(name, def string) string {
	if value, ok := e[name]; ok {
		return value
	}

	return def
}

// Expand replaces $NAME and ${NAME} references and turns $$ into $.
// References to unset variables are kept verbatim, as is anything that is not
// a well-formed reference, so a typo stays visible in the logs.
func (e Environ) Expand(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}

	return reference.ReplaceAllStringFunc(s, func(match string) string {
		name := match[1:]
		if name == "$" {
			return "$"
		}

		name = strings.TrimSuffix(strings.TrimPrefix(name, "{"), "}")
		if value, ok := e[name]; ok {
			return value
		}

		return match
	})
}
