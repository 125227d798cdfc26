// Package events fans auth security events out to the audit trail, the
// MQTT bus, InfluxDB metrics and the log.
//
// The auth package only knows the auth.EventSink interface; Dispatcher
// implements it. Failures in any destination are logged and never reach
// the login, refresh or moderation call that produced the event.
package events
