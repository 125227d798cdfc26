// Package mqtt publishes forum events to an MQTT broker.
//
// Security events (failed logins, lockouts, refresh-token reuse, role and
// status changes) and user presence are fanned out on the broker so
// moderation tooling and other forum nodes can react without polling the
// database:
//
//	forum core → MQTT broker → moderation dashboards, alerting, other nodes
//
// The client reconnects with backoff and keeps a retained status topic
// backed by a Last Will, so subscribers can tell a crash from a shutdown.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := client.Topics().SecurityEvent("token_reuse")
//	err = client.PublishJSON(topic, event, false)
package mqtt
