package http

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// DeprecatedRoute marks an endpoint as deprecated with sunset date.
type DeprecatedRoute struct {
	Path        string    // Route pattern, ":param" segments match any value
	SunsetDate  time.Time // Date when endpoint will be removed
	Alternative string    // Successor pattern; ":param" segments are filled from the request (optional)
}

// DeprecationMiddleware adds Deprecation, Sunset, and Link headers to deprecated endpoints.
func DeprecationMiddleware(deprecated []DeprecatedRoute) fiber.Handler {
	return func(c *fiber.Ctx) error {
		for _, d := range deprecated {
			params, ok := matchPattern(c.Path(), d.Path)
			if !ok {
				continue
			}
			// RFC 8594
			c.Set("Deprecation", "true")
			c.Set("Sunset", d.SunsetDate.UTC().Format(time.RFC1123))

			// RFC 8288
			if d.Alternative != "" {
				c.Append("Link", fmt.Sprintf(`<%s>; rel="successor-version"`, fillPattern(d.Alternative, params)))
			}

			days := time.Until(d.SunsetDate).Hours() / 24
			c.Set("Warning", fmt.Sprintf(`299 - "Deprecated API, will sunset in %.0f days"`, days))
			break
		}

		return c.Next()
	}
}

// matchPattern matches a request path against a route pattern such as
// "/v1/surveys/:id/points" and returns the captured parameters.
func matchPattern(path, pattern string) (map[string]string, bool) {
	pathParts := strings.Split(strings.Trim(path, "/"), "/")
	patternParts := strings.Split(strings.Trim(pattern, "/"), "/")
	if len(pathParts) != len(patternParts) {
		return nil, false
	}
	params := map[string]string{}
	for i, p := range patternParts {
		if strings.HasPrefix(p, ":") {
			if pathParts[i] == "" {
				return nil, false
			}
			params[p[1:]] = pathParts[i]
			continue
		}
		if p != pathParts[i] {
			return nil, false
		}
	}
	return params, true
}

func fillPattern(pattern string, params map[string]string) string {
	parts := strings.Split(pattern, "/")
	for i, p := range parts {
		if strings.HasPrefix(p, ":") {
			if v, ok := params[p[1:]]; ok {
				parts[i] = v
			}
		}
	}
	return strings.Join(parts, "/")
}
