package instance

import "os"

// ID names the running process in logs. Platform-assigned names win over
// the hostname.
func ID() string {
	for _, key := range []string{"TOWLINE_INSTANCE_ID", "DYNO", "WORKER_ID"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
