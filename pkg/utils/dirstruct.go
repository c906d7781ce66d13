package utils

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ExpandDirStruct expands a directory structure template for the given
// instant. Recognized tokens are {year}, {month}, {day}, {hour},
// {minute} and {env[NAME]}. Unknown tokens are left untouched so the
// caller can detect them and fall back to a flat layout.
func ExpandDirStruct(template string, at time.Time) string {
	utc := at.UTC()
	expanded := strings.NewReplacer(
		"{year}", strconv.Itoa(utc.Year()),
		"{month}", strconv.Itoa(int(utc.Month())),
		"{day}", strconv.Itoa(utc.Day()),
		"{hour}", strconv.Itoa(utc.Hour()),
		"{minute}", strconv.Itoa(utc.Minute()),
	).Replace(template)

	for {
		start := strings.Index(expanded, "{env[")
		if start < 0 {
			break
		}
		end := strings.Index(expanded[start:], "]}")
		if end < 0 {
			break
		}
		name := expanded[start+len("{env[") : start+end]
		value, ok := os.LookupEnv(name)
		if !ok {
			// Leave the token in place so HasUnresolvedTokens triggers.
			break
		}
		expanded = expanded[:start] + value + expanded[start+end+len("]}"):]
	}

	return expanded
}

// HasUnresolvedTokens reports whether an expanded template still holds
// placeholder braces. Such a path must not be used for writes.
func HasUnresolvedTokens(expanded string) bool {
	return strings.ContainsAny(expanded, "{}")
}
