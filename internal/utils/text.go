package utils

import (
	"strings"
)

// QueryText builds the text that gets embedded for an intention:
// title and description joined by a space, trimmed.
func QueryText(title, description string) string {
	return strings.TrimSpace(title + " " + description)
}

// FirstToken returns the first whitespace-delimited token of s, or "" if s is blank
func FirstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike escapes LIKE/ILIKE metacharacters so s matches literally
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// ContainsPattern builds an ILIKE pattern matching any value that contains s
func ContainsPattern(s string) string {
	return "%" + EscapeLike(s) + "%"
}
