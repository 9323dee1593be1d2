package service

import (
	"regexp"
	"strings"
)

var (
	emailPattern      = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	angleBrackets     = regexp.MustCompile(`[<>]`)
	javascriptScheme  = regexp.MustCompile(`(?i)javascript:`)
	inlineEventHandle = regexp.MustCompile(`(?i)on\w+=`)
)

// Sanitize strips markup brackets, javascript: URLs and inline event
// handler attributes, then trims surrounding space.
func Sanitize(input string) string {
	out := angleBrackets.ReplaceAllString(input, "")
	out = javascriptScheme.ReplaceAllString(out, "")
	out = inlineEventHandle.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}

func IsValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}
