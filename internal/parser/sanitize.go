package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	numberLiteral  = regexp.MustCompile(`^-?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)
	trailingCommas = regexp.MustCompile(`,(\s*[}\]])`)
)

var yamlLiterals = map[string]struct{}{
	"true": {}, "false": {}, "null": {}, "~": {},
	"yes": {}, "no": {}, "on": {}, "off": {},
}

var blockScalarIndicators = map[string]struct{}{
	"|": {}, ">": {}, "|-": {}, ">-": {}, "|+": {}, ">+": {},
}

// SanitizeYAML double-quotes plain scalar values so that colons, hashes and
// non-ASCII text inside them no longer break the YAML grammar. Literals,
// numbers, inline collections and block scalars are left alone.
func SanitizeYAML(content string) string {
	lines := strings.Split(content, "\n")
	blockIndent := -1
	for index, line := range lines {
		if blockIndent >= 0 {
			if strings.TrimSpace(line) == "" || indentOf(line) > blockIndent {
				continue
			}
			blockIndent = -1
		}
		lines[index] = sanitizeYAMLLine(line)
		if opensBlockScalar(line) {
			blockIndent = indentOf(line)
		}
	}
	return strings.Join(lines, "\n")
}

func indentOf(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}

// opensBlockScalar reports whether line ends in a | or > header.
func opensBlockScalar(line string) bool {
	stripped := strings.TrimSpace(line)
	var value string
	switch {
	case strings.HasPrefix(stripped, "#"):
		return false
	case strings.Contains(stripped, ": "):
		value = stripped[strings.Index(stripped, ": ")+2:]
	case strings.HasPrefix(stripped, "- "):
		value = stripped[2:]
	default:
		return false
	}
	_, block := blockScalarIndicators[strings.TrimSpace(value)]
	return block
}

func sanitizeYAMLLine(line string) string {
	stripped := strings.TrimSpace(line)
	if stripped == "" || strings.HasPrefix(stripped, "#") {
		return line
	}
	if strings.HasSuffix(stripped, ":") && !strings.Contains(stripped, ": ") {
		return line
	}

	if colon := strings.Index(line, ": "); colon > 0 && !strings.HasPrefix(stripped, "- ") {
		value := strings.TrimRight(line[colon+2:], " \t\r")
		if !needsQuoting(value, true) {
			return line
		}
		return line[:colon+1] + " " + quote(value)
	}

	if !strings.HasPrefix(stripped, "- ") {
		return line
	}
	dash := strings.Index(line, "- ")
	indent := line[:dash]
	value := strings.TrimRight(line[dash+2:], " \t\r")
	if value == "" {
		return line
	}

	if inner := strings.Index(value, ": "); inner > 0 {
		innerValue := value[inner+2:]
		if !needsQuoting(innerValue, false) {
			return line
		}
		return indent + "- " + value[:inner] + ": " + quote(innerValue)
	}

	if isQuoted(value) {
		return line
	}
	if strings.ContainsAny(value, ":#") || !isASCII(value) {
		return indent + "- " + quote(value)
	}
	return line
}

func needsQuoting(value string, allowBlockScalar bool) bool {
	if value == "" || isQuoted(value) {
		return false
	}
	if _, literal := yamlLiterals[strings.ToLower(value)]; literal {
		return false
	}
	if numberLiteral.MatchString(value) {
		return false
	}
	if strings.HasPrefix(value, "[") || strings.HasPrefix(value, "{") {
		return false
	}
	if _, block := blockScalarIndicators[value]; block && allowBlockScalar {
		return false
	}
	return true
}

func isQuoted(value string) bool {
	if len(value) < 2 {
		return false
	}
	first, last := value[0], value[len(value)-1]
	return (first == '"' && last == '"') || (first == '\'' && last == '\'')
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}

func isASCII(value string) bool {
	for index := 0; index < len(value); index++ {
		if value[index] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// SanitizeJSON trims prose around the outermost object and drops trailing
// commas before closing brackets.
func SanitizeJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	return trailingCommas.ReplaceAllString(content, "$1")
}
