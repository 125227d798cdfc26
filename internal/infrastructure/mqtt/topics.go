package mqtt

import "strings"

// DefaultTopicPrefix is used when the configuration leaves the prefix empty.
const DefaultTopicPrefix = "forum"

// Topics builds the forum's MQTT topic names:
//
//	{prefix}/system/status         retained online/offline status
//	{prefix}/security/{event}      security events (login_failed, token_reuse, ...)
//	{prefix}/presence/{user_id}    retained presence per user
type Topics struct {
	Prefix string
}

func (t Topics) root() string {
	if p := strings.Trim(t.Prefix, "/"); p != "" {
		return p
	}
	return DefaultTopicPrefix
}

// SystemStatus returns the service status topic.
func (t Topics) SystemStatus() string {
	return t.root() + "/system/status"
}

// SecurityEvent returns the topic for one security event type.
func (t Topics) SecurityEvent(eventType string) string {
	return t.root() + "/security/" + eventType
}

// Presence returns the presence topic of one user.
func (t Topics) Presence(userID string) string {
	return t.root() + "/presence/" + userID
}
