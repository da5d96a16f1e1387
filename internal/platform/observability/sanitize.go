package observability

import "strings"

const maxFieldRunes = 256

// scrub strips control characters from a value before it reaches the
// logs and caps its length. Request paths and user identifiers are
// attacker controlled, so they are never logged raw.
func scrub(value string, max int) string {
	if max <= 0 {
		max = maxFieldRunes
	}
	var b strings.Builder
	b.Grow(len(value))
	n := 0
	for _, r := range value {
		if r < 0x20 && r != '\t' || r == 0x7f {
			continue
		}
		b.WriteRune(r)
		if n++; n >= max {
			break
		}
	}
	return b.String()
}

// SanitizeRoute normalises a route pattern for log and span attributes.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return scrub(route, 180)
}

// SanitizeMethod normalises an HTTP method for log fields.
func SanitizeMethod(method string) string {
	return scrub(method, 10)
}

// SanitizeUserID caps user identifiers before they are logged.
func SanitizeUserID(uid string) string {
	return scrub(uid, 64)
}
