package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementGatewayConnection = "gateway_connection"
	MeasurementNodeStatus        = "node_status"
	MeasurementNodeStock         = "node_stock"
)

// GatewayConnectionPoint records one authenticated gateway heartbeat.
func GatewayConnectionPoint(gatewayID int64, serial string, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementGatewayConnection,
		map[string]string{
			"gateway_id": strconv.FormatInt(gatewayID, 10),
			"serial":     serial,
		},
		map[string]interface{}{"connected": true},
		at,
	)
}

// NodeStatusPoint records a node's battery level as reported through a gateway.
func NodeStatusPoint(gatewayID int64, nodeSerial string, batteryPercent int, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementNodeStatus,
		map[string]string{
			"gateway_id":  strconv.FormatInt(gatewayID, 10),
			"node_serial": nodeSerial,
		},
		map[string]interface{}{"current_battery": batteryPercent},
		at,
	)
}

// NodeStockPoint records the fill level of one slot on a node.
func NodeStockPoint(gatewayID int64, nodeSerial string, slotIndex int, stockPercent float64, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementNodeStock,
		map[string]string{
			"gateway_id":  strconv.FormatInt(gatewayID, 10),
			"node_serial": nodeSerial,
			"slot_index":  strconv.Itoa(slotIndex),
		},
		map[string]interface{}{"current_stock_percent": stockPercent},
		at,
	)
}

// WriteGatewayConnection queues a gateway heartbeat point.
func (c *Client) WriteGatewayConnection(gatewayID int64, serial string, at time.Time) {
	c.writePoint(GatewayConnectionPoint(gatewayID, serial, at))
}

// WriteNodeStatus queues a node battery point.
func (c *Client) WriteNodeStatus(gatewayID int64, nodeSerial string, batteryPercent int, at time.Time) {
	c.writePoint(NodeStatusPoint(gatewayID, nodeSerial, batteryPercent, at))
}

// WriteNodeStock queues a slot stock point.
func (c *Client) WriteNodeStock(gatewayID int64, nodeSerial string, slotIndex int, stockPercent float64, at time.Time) {
	c.writePoint(NodeStockPoint(gatewayID, nodeSerial, slotIndex, stockPercent, at))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}
