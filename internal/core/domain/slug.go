package domain

import "strings"

// Slugify normalizes a name into a URL/DNS-safe slug.
//
// Lowercase letters, digits and hyphens pass through; uppercase letters are
// lowered; runs of spaces and underscores become a single hyphen; anything
// else is dropped. Leading and trailing hyphens are trimmed so the result is
// always a valid DNS label fragment.
//
// Example:
//
//	Slugify("My API Server")  // "my-api-server"
//	Slugify("web_app 2.0!")   // "web-app-20"
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
			lastHyphen = false
		case r == '-' || r == ' ' || r == '_':
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
