package pubsub

import (
	"fmt"
	"strings"
)

type resourceKind string

const (
	kindTopic        resourceKind = "topics"
	kindSubscription resourceKind = "subscriptions"
)

// resourceName expands a bare topic or subscription ID into its full
// resource path. Names that are already fully qualified pass through.
func resourceName(projectID string, kind resourceKind, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+string(kind)+"/") {
		return n
	}
	p := strings.TrimSpace(projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/%s/%s", p, kind, n)
}

type resource struct {
	kind resourceKind
	name string
}

// requiredResources lists what must exist before a binary starts: the
// domain topic, the DLQ topic when one is set and the notification
// subscription.
func (c *Client) requiredResources() []resource {
	var out []resource
	add := func(kind resourceKind, name string) {
		if full := resourceName(c.projectID, kind, name); full != "" {
			out = append(out, resource{kind: kind, name: full})
		}
	}
	add(kindTopic, c.cfg.DomainTopic)
	add(kindTopic, c.cfg.DLQTopic)
	add(kindSubscription, c.cfg.NotificationSubscription)
	return out
}
