package refconf

import "strings"

// DefaultMarker prefixes string values that name a file to load in place.
const DefaultMarker = "$FILE "

// DetectReference reports whether v is a string beginning with marker and
// returns the text after it. When v is not a reference, remainder is the
// original string (or "" for non-strings). The empty string is never a reference.
func DetectReference(v Value, marker string) (remainder string, ok bool) {
	s, isStr := v.Str()
	if !isStr {
		return "", false
	}
	if s == "" || !strings.HasPrefix(s, marker) {
		return s, false
	}
	return s[len(marker):], true
}
