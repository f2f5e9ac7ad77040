package mqtt

import (
	"encoding/json"
	"fmt"
	"time"
)

// Gateway presence states published on GatewayStatus.
const (
	GatewayConnected  = "connected"
	GatewayRegistered = "registered"
	GatewayReplaced   = "replaced"
)

// GatewayEvent is the retained payload describing a gateway's last known state.
type GatewayEvent struct {
	GatewayID int64     `json:"gateway_id"`
	Serial    string    `json:"serial"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// StockReport is one slot reading forwarded from a node batch.
type StockReport struct {
	SlotIndex           int       `json:"slot_index"`
	CurrentStockPercent float64   `json:"current_stock_percent"`
	Timestamp           time.Time `json:"timestamp"`
}

// PublishGatewayEvent publishes ev as the retained status of its gateway.
func (c *Client) PublishGatewayEvent(ev GatewayEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshalling gateway event: %w", err)
	}
	return c.PublishRetained(Topics{}.GatewayStatus(ev.GatewayID), payload)
}

// ClearGatewayEvent removes the retained status of a deleted gateway.
func (c *Client) ClearGatewayEvent(gatewayID int64) error {
	return c.PublishRetained(Topics{}.GatewayStatus(gatewayID), nil)
}

// PublishNodeStock publishes the latest stock readings of one node.
// Stock updates are not retained; consumers that need history read InfluxDB.
func (c *Client) PublishNodeStock(serial string, reports []StockReport) error {
	if serial == "" {
		return ErrInvalidTopic
	}
	payload, err := json.Marshal(reports)
	if err != nil {
		return fmt.Errorf("marshalling stock report: %w", err)
	}
	return c.Publish(Topics{}.NodeStock(serial), payload, byte(c.cfg.QoS), false)
}
