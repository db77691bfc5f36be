package instance

import (
	"os"

	"github.com/angelmondragon/orgplans-backend/pkg/env"
)

const fallbackID = "orgplans-0"

// ID names this process for lock ownership and logs. ORGPLANS_INSTANCE_ID
// wins, then the hostname.
func ID() string {
	if id := env.Get("ORGPLANS_INSTANCE_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
