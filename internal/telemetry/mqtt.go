// Package telemetry optionally publishes relay-session lifecycle events
// to an MQTT broker for operator visibility. It is entirely disabled
// (a no-op) unless MQTT_BROKER_URL is configured, and publishing is
// fire-and-forget: it never gates or delays the relay session it
// reports on.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/coder/websocket"

	"github.com/ottdbridge/bridge/internal/logging"
	"github.com/ottdbridge/bridge/internal/relay"
)

// TopicRelayEvents is where relay lifecycle events are published.
const TopicRelayEvents = "ottdbridge/relay/events"

// relayEvent is the JSON shape published for each completed session.
type relayEvent struct {
	SessionID    string `json:"session_id"`
	Host         string `json:"host"`
	Port         uint16 `json:"port"`
	BytesWsToTCP int64  `json:"bytes_ws_to_tcp"`
	BytesTCPToWs int64  `json:"bytes_tcp_to_ws"`
	CloseCode    int    `json:"close_code"`
	Timestamp    string `json:"timestamp"`
}

// Sink publishes relay lifecycle events to an MQTT broker, fire-and-
// forget, dropping events under backpressure rather than slowing the
// relay down.
type Sink struct {
	client mqtt.Client
	events chan relayEvent
}

// NewSink connects to brokerURL (e.g. "tcp://broker:1883") and returns a
// Sink whose OnRelayDone method can be passed directly as a
// relay.EventFunc. Returns an error if the initial connect fails; the
// caller is expected to treat telemetry as optional and proceed without
// it on failure.
func NewSink(brokerURL string) (*Sink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID("ottdbridge")
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)

	log := logging.For(logging.CategoryServer)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt telemetry: connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt telemetry: connect: %w", token.Error())
	}

	s := &Sink{client: client, events: make(chan relayEvent, 64)}
	go s.loop()
	return s, nil
}

func (s *Sink) loop() {
	log := logging.For(logging.CategoryServer)
	for ev := range s.events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		token := s.client.Publish(TopicRelayEvents, 0, false, data)
		token.Wait()
		if token.Error() != nil {
			log.Debug().Err(token.Error()).Msg("mqtt telemetry: publish failed")
		}
	}
}

// OnRelayDone implements relay.EventFunc.
func (s *Sink) OnRelayDone(sessionID, host string, port uint16, stats relay.Stats, closeCode websocket.StatusCode) {
	ev := relayEvent{
		SessionID:    sessionID,
		Host:         host,
		Port:         port,
		BytesWsToTCP: stats.BytesWsToTCP,
		BytesTCPToWs: stats.BytesTCPToWs,
		CloseCode:    int(closeCode),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
	select {
	case s.events <- ev:
	default:
		// Drop under backpressure; telemetry is best-effort.
	}
}

// Close disconnects from the broker.
func (s *Sink) Close() {
	close(s.events)
	s.client.Disconnect(250)
}
