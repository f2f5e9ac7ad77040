package influxdb

import "errors"

// Sentinel errors; match with errors.Is.
var (
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled is returned by Connect when InfluxDB is disabled in config.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
