package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementSecurityEvents = "security_events"
	measurementActiveSessions = "active_sessions"
)

// WriteSecurityEvent records one security event. Tags stay low
// cardinality: the event type and whether the actor was a known account.
// Numeric details (failed_count, revoked_sessions) become fields.
func (c *Client) WriteSecurityEvent(eventType string, knownUser bool, details map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(securityEventPoint(eventType, knownUser, details, at))
}

// WriteActiveSessions records the number of live refresh tokens, as
// counted by the token sweeper.
func (c *Client) WriteActiveSessions(count int64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurementActiveSessions, nil,
		map[string]any{"count": count}, at))
}

func securityEventPoint(eventType string, knownUser bool, details map[string]any, at time.Time) *write.Point {
	known := "false"
	if knownUser {
		known = "true"
	}
	fields := map[string]any{"count": int64(1)}
	for k, v := range details {
		switch n := v.(type) {
		case int:
			fields[k] = int64(n)
		case int64:
			fields[k] = n
		case float64:
			fields[k] = n
		}
	}
	return write.NewPoint(measurementSecurityEvents,
		map[string]string{"event": eventType, "known_user": known},
		fields, at)
}
