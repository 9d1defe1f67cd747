package store

import (
	"strings"
)

// keyPrefix namespaces session records in Redis.
const keyPrefix = "bulk:session"

// SessionKey identifies a stored session record.
type SessionKey struct {
	// Resource is the bulk resource name, e.g. "products"
	Resource string

	// SessionID is the session's UUID
	SessionID string
}

// String generates the Redis key.
// Format: bulk:session:<resource>:<session id>
//
// Example:
//
//	bulk:session:products:1b4e28ba-2fa1-11d2-883f-0016d3cca427
func (k SessionKey) String() string {
	resource := strings.ToLower(strings.Trim(k.Resource, "/ "))
	resource = strings.ReplaceAll(resource, ":", "_")
	return strings.Join([]string{keyPrefix, resource, strings.TrimSpace(k.SessionID)}, ":")
}

// Valid reports whether both parts are set.
func (k SessionKey) Valid() bool {
	return strings.Trim(k.Resource, "/ ") != "" && strings.TrimSpace(k.SessionID) != ""
}
