// Package influxdb records forum security metrics in InfluxDB.
//
// Every security event (logins, failures, lockouts, token reuse, role and
// status changes) becomes a point in the security_events measurement, and
// the token sweeper records active session counts. Dashboards built on
// these series show credential-stuffing waves and reuse spikes without
// querying the primary database.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSecurityEvent("login_failed", true, map[string]any{"failed_count": 3}, time.Now())
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval; asynchronous failures are reported through SetOnError.
package influxdb
