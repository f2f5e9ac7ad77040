// Package influxdb stores SmartRack telemetry in InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Three measurements
// are written:
//   - gateway_connection: one point per authenticated gateway heartbeat
//   - node_status: battery level per node, reported through a gateway
//   - node_stock: fill level per node slot
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteNodeStock(gatewayID, "NODE-7", 0, 42.5, reportedAt)
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval; asynchronous failures go to the SetOnError callback.
// Connection and health check errors are returned directly.
package influxdb
