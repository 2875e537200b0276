package observability

import (
	"strings"
	"unicode"
)

// Field limits, in runes, for values copied from requests into logs and spans.
const (
	defaultStringLimit = 256
	routeLimit         = 180
	methodLimit        = 10
	shopperLimit       = 64
)

func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	var b strings.Builder
	n := 0
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		if n == limit {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// SanitizeRoute returns a loggable route pattern, "/" when empty.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, routeLimit)
}

func SanitizeMethod(method string) string {
	return sanitizeString(strings.ToUpper(method), methodLimit)
}

// SanitizeUserID bounds shopper uids before they reach logs.
func SanitizeUserID(uid string) string {
	return sanitizeString(uid, shopperLimit)
}
