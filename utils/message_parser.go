package utils

import (
	"regexp"
	"strings"
)

var (
	userMention = regexp.MustCompile(`^<@!?(\d+)>$`)
	snowflake   = regexp.MustCompile(`^\d{15,21}$`)
)

// ParseUserID accepts a user mention or a raw ID.
func ParseUserID(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if m := userMention.FindStringSubmatch(s); m != nil {
		return m[1], true
	}
	if snowflake.MatchString(s) {
		return s, true
	}
	return "", false
}

// SplitArgs splits command arguments on whitespace, keeping double-quoted
// text together as one argument without the quotes.
func SplitArgs(s string) []string {
	var (
		args    []string
		current strings.Builder
		quoted  bool
		started bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			started = true
		case !quoted && (r == ' ' || r == '\t' || r == '\n'):
			if started {
				args = append(args, current.String())
				current.Reset()
				started = false
			}
		default:
			current.WriteRune(r)
			started = true
		}
	}
	if started {
		args = append(args, current.String())
	}
	return args
}
