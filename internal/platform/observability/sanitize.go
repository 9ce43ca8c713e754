package observability

import (
	"strings"
	"unicode"
)

// scrub drops control runes and caps the result at max runes. Log fields built
// from request data go through here so a crafted path or header cannot smuggle
// newlines into the log stream.
func scrub(value string, max int) string {
	var b strings.Builder
	b.Grow(len(value))
	n := 0
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		if n >= max {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// SanitizeRoute cleans a chi route pattern for logs and span attributes.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return scrub(route, 180)
}

// SanitizeMethod cleans an HTTP method name.
func SanitizeMethod(method string) string {
	return scrub(method, 10)
}

// SanitizeUserID caps user identifiers before they reach logs.
func SanitizeUserID(uid string) string {
	return scrub(uid, 64)
}
