package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/smartrack-core/internal/infrastructure/config"
)

// testConfig targets a local Mosquitto broker at 127.0.0.1:1883.
func testConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// connectOrSkip connects to the local broker or skips the test when none is running.
func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping broker test in short mode")
	}
	client, err := Connect(testConfig(clientID))
	if err != nil {
		t.Skipf("MQTT broker not available: %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

// subscribeRaw subscribes with a bare paho client so published messages can be observed.
func subscribeRaw(t *testing.T, topic string) <-chan pahomqtt.Message {
	t.Helper()
	opts := pahomqtt.NewClientOptions().
		AddBroker("tcp://127.0.0.1:1883").
		SetClientID(fmt.Sprintf("smartrack-test-sub-%d", time.Now().UnixNano()))
	sub := pahomqtt.NewClient(opts)
	if token := sub.Connect(); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Skipf("MQTT broker not available for subscriber: %v", token.Error())
	}
	t.Cleanup(func() { sub.Disconnect(100) })

	msgs := make(chan pahomqtt.Message, 8)
	token := sub.Subscribe(topic, 1, func(_ pahomqtt.Client, m pahomqtt.Message) {
		msgs <- m
	})
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("Subscribe(%s) error = %v", topic, token.Error())
	}
	return msgs
}

func receive(t *testing.T, msgs <-chan pahomqtt.Message) pahomqtt.Message {
	t.Helper()
	select {
	case m := <-msgs:
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"SystemStatus", Topics{}.SystemStatus(), "smartrack/system/status"},
		{"GatewayStatus", Topics{}.GatewayStatus(42), "smartrack/gateway/42/status"},
		{"NodeStock", Topics{}.NodeStock("NODE-7"), "smartrack/node/NODE-7/stock"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestStatusPayloads(t *testing.T) {
	var online systemStatus
	if err := json.Unmarshal(buildOnlinePayload("core-1"), &online); err != nil {
		t.Fatalf("online payload is not JSON: %v", err)
	}
	if online.Status != "online" || online.ClientID != "core-1" || online.Reason != "" {
		t.Errorf("online payload = %+v", online)
	}

	var offline systemStatus
	if err := json.Unmarshal(buildOfflinePayload("core-1"), &offline); err != nil {
		t.Fatalf("offline payload is not JSON: %v", err)
	}
	if offline.Status != "offline" || offline.Reason != "graceful_shutdown" {
		t.Errorf("offline payload = %+v", offline)
	}
	if _, err := time.Parse(time.RFC3339, offline.Timestamp); err != nil {
		t.Errorf("offline timestamp %q is not RFC3339", offline.Timestamp)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig("opts-test")
	cfg.Broker.TLS = true
	cfg.Auth = config.MQTTAuthConfig{Username: "core", Password: "pw"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "opts-test" {
		t.Errorf("ClientID = %q, want opts-test", opts.ClientID)
	}
	if opts.Username != "core" || opts.Password != "pw" {
		t.Errorf("credentials = %q/%q, want core/pw", opts.Username, opts.Password)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config should be set with TLS 1.2 minimum")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect should be enabled")
	}
}

func TestPublish_ValidationBeforeConnection(t *testing.T) {
	client := &Client{}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"invalid QoS", "smartrack/x", nil, 3, ErrInvalidQoS},
		{"oversized payload", "smartrack/x", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "smartrack/x", []byte("{}"), 1, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublishNodeStock_EmptySerial(t *testing.T) {
	client := &Client{}
	if err := client.PublishNodeStock("", nil); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("PublishNodeStock(\"\") error = %v, want ErrInvalidTopic", err)
	}
}

func TestUninitialisedClient(t *testing.T) {
	client := &Client{}
	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on uninitialised client error = %v", err)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestConnect_BrokerRefused(t *testing.T) {
	cfg := testConfig("smartrack-test-refused")
	cfg.Broker.Port = 19998

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnectAndClose(t *testing.T) {
	client := connectOrSkip(t, "smartrack-test-connect")

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() expected error for cancelled context")
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}

func TestPublishGatewayEvent_Retained(t *testing.T) {
	client := connectOrSkip(t, "smartrack-test-gateway")

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := GatewayEvent{GatewayID: 9001, Serial: "GW-9001", Status: GatewayConnected, Timestamp: at}
	if err := client.PublishGatewayEvent(ev); err != nil {
		t.Fatalf("PublishGatewayEvent() error = %v", err)
	}
	t.Cleanup(func() { client.ClearGatewayEvent(9001) }) //nolint:errcheck // Test cleanup

	// Subscribing after the publish proves the message was retained.
	msgs := subscribeRaw(t, Topics{}.GatewayStatus(9001))
	msg := receive(t, msgs)

	if !msg.Retained() {
		t.Error("gateway status should be delivered as retained")
	}
	var got GatewayEvent
	if err := json.Unmarshal(msg.Payload(), &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.Serial != "GW-9001" || got.Status != GatewayConnected || !got.Timestamp.Equal(at) {
		t.Errorf("payload = %+v, want %+v", got, ev)
	}
}

func TestPublishNodeStock(t *testing.T) {
	client := connectOrSkip(t, "smartrack-test-stock")
	msgs := subscribeRaw(t, Topics{}.NodeStock("NODE-1"))

	reports := []StockReport{{SlotIndex: 0, CurrentStockPercent: 42.5, Timestamp: time.Now().UTC()}}
	if err := client.PublishNodeStock("NODE-1", reports); err != nil {
		t.Fatalf("PublishNodeStock() error = %v", err)
	}

	var got []StockReport
	if err := json.Unmarshal(receive(t, msgs).Payload(), &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if len(got) != 1 || got[0].CurrentStockPercent != 42.5 {
		t.Errorf("payload = %+v", got)
	}
}

func TestOnConnectCallback(t *testing.T) {
	client := connectOrSkip(t, "smartrack-test-callback")

	called := make(chan struct{}, 1)
	client.SetOnConnect(func() { called <- struct{}{} })
	client.handleConnect()

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Error("OnConnect callback was not invoked")
	}
}
