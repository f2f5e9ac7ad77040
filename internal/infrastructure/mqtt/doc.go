// Package mqtt publishes SmartRack Core events to an MQTT broker.
//
// The core is a publisher only. It announces its own availability on
// smartrack/system/status (with a Last Will for crashes), the presence of
// each gateway device on smartrack/gateway/{id}/status, and forwards node
// stock reports on smartrack/node/{serial}/stock for live dashboards.
//
// Gateway status messages are retained so a dashboard that connects later
// still sees the last heartbeat of every gateway.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishGatewayEvent(mqtt.GatewayEvent{
//	    GatewayID: 42,
//	    Serial:    "GW-0042",
//	    Status:    mqtt.GatewayConnected,
//	    Timestamp: time.Now().UTC(),
//	})
//
// TLS (cfg.Broker.TLS) should be enabled outside local development.
package mqtt
