package engine

import "regexp"

// variablePattern matches {{ name }} placeholders in prompt templates.
// Registry templates are logic-less mustache-style text; only bare word
// substitution is supported.
var variablePattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// renderTemplate substitutes placeholders from vars. Variables the template
// names but vars doesn't carry render as empty strings.
func renderTemplate(text string, vars map[string]string) string {
	return variablePattern.ReplaceAllStringFunc(text, func(match string) string {
		name := variablePattern.FindStringSubmatch(match)[1]
		return vars[name]
	})
}
