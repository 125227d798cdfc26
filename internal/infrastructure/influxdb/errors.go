package influxdb

import "errors"

// Sentinel errors; check with errors.Is.
var (
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled is returned by Connect when metrics are switched off.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
