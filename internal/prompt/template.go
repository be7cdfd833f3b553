// Package prompt renders {{variable}} placeholders in agent prompt text.
package prompt

import (
	"fmt"
	"regexp"
	"strings"
)

var varRe = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)

// Vars is a map of variable names to values for template rendering.
type Vars map[string]string

// Render expands {{variable}} placeholders with the given variables.
// Unknown placeholders are left intact so condition expressions like
// {{ stages.x.outputs.y }} (which carry spaces and dots and never match
// varRe) pass through agent prompts untouched.
func Render(tmpl string, vars Vars) string {
	return varRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		m := varRe.FindStringSubmatch(match)
		if m == nil {
			return match
		}
		if val, ok := vars[m[1]]; ok {
			return val
		}
		return match
	})
}

// RenderStrict expands placeholders and errors when any referenced variable
// is missing. Used for operator-supplied templates where a typo should
// surface instead of silently passing through.
func RenderStrict(tmpl string, vars Vars) (string, error) {
	var missing []string
	expanded := varRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		m := varRe.FindStringSubmatch(match)
		if m == nil {
			return match
		}
		if val, ok := vars[m[1]]; ok {
			return val
		}
		missing = append(missing, m[1])
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}
