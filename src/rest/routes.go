package rest

import "strings"

// Major resource parameters. Routes under the same template but a
// different channel/guild/webhook id rate limit independently, so the
// id right after these segments stays in the bucket key. Every other
// snowflake collapses into a placeholder.
var majorParams = map[string]bool{
	"channels": true,
	"guilds":   true,
	"webhooks": true,
}

// BucketKey derives the rate limit bucket key for a call from its
// method and path.
func BucketKey(method, path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if !isSnowflake(segment) {
			continue
		}
		if i > 0 && majorParams[segments[i-1]] {
			continue
		}
		segments[i] = ":id"
	}
	return method + ":" + strings.Join(segments, "/")
}

// isSnowflake reports whether a path segment looks like an id.
// Snowflakes are 17+ digit integers; shorter numbers (API versions,
// shard ids) are part of the route itself.
func isSnowflake(s string) bool {
	if len(s) < 17 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
