package mqtt

import "fmt"

// TopicPrefix is the root of every SmartRack topic.
const TopicPrefix = "smartrack"

// Topics builds SmartRack MQTT topic names.
//
//	mqtt.Topics{}.GatewayStatus(42) // smartrack/gateway/42/status
type Topics struct{}

// SystemStatus is the retained online/offline status of the core.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// GatewayStatus is the retained presence of one gateway device.
func (Topics) GatewayStatus(gatewayID int64) string {
	return fmt.Sprintf("%s/gateway/%d/status", TopicPrefix, gatewayID)
}

// NodeStock carries the latest slot stock report of one rack node.
func (Topics) NodeStock(serial string) string {
	return fmt.Sprintf("%s/node/%s/stock", TopicPrefix, serial)
}

