package als

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// MQTTConfig describes a room light sensor publishing to a broker topic.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	// MaxAge after which the last value is reported as stale; 0 disables.
	MaxAge time.Duration
}

// MQTT keeps the latest lux value received on a topic. Payloads are either a
// bare number or a JSON object with a "lux" field.
type MQTT struct {
	cfg    MQTTConfig
	client mqtt.Client

	mu       sync.RWMutex
	value    float64
	received time.Time
	now      func() time.Time
}

// NewMQTT creates an unconnected source; call Connect to subscribe.
func NewMQTT(cfg MQTTConfig) *MQTT {
	return &MQTT{cfg: cfg, now: time.Now}
}

// Connect dials the broker and subscribes to the topic. Reconnects are
// handled by the client, which resubscribes on every connect. If ctx ends
// before the first connection, the client keeps retrying in the background.
func (m *MQTT) Connect(ctx context.Context) error {
	clientID := m.cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("lumad-%d", time.Now().UnixNano())
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(m.cfg.Username)
	opts.SetPassword(m.cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(m.cfg.Topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			m.Handle(msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", m.cfg.Topic).Msg("Failed to subscribe to lux topic")
			return
		}
		log.Info().Str("broker", m.cfg.Broker).Str("topic", m.cfg.Topic).Msg("Subscribed to lux topic")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", m.cfg.Broker).Msg("MQTT connection lost")
	})

	m.client = mqtt.NewClient(opts)
	token := m.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

// Handle records a payload. Malformed payloads are logged and dropped.
func (m *MQTT) Handle(payload []byte) {
	v, err := ParseLuxPayload(payload)
	if err != nil {
		log.Warn().Err(err).Str("topic", m.cfg.Topic).Msg("Ignoring lux message")
		return
	}
	m.mu.Lock()
	m.value = v
	m.received = m.now()
	m.mu.Unlock()
}

func (m *MQTT) Lux(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.received.IsZero() {
		return 0, ErrNoReading
	}
	if m.cfg.MaxAge > 0 && m.now().Sub(m.received) > m.cfg.MaxAge {
		return 0, ErrStale
	}
	return m.value, nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	if m.client != nil {
		m.client.Disconnect(250)
	}
}

// ParseLuxPayload accepts "123.4" or {"lux": 123.4}.
func ParseLuxPayload(payload []byte) (float64, error) {
	s := strings.TrimSpace(string(payload))
	if s == "" {
		return 0, fmt.Errorf("empty payload")
	}

	var v float64
	if strings.HasPrefix(s, "{") {
		var msg struct {
			Lux *float64 `json:"lux"`
		}
		if err := json.Unmarshal([]byte(s), &msg); err != nil {
			return 0, fmt.Errorf("invalid JSON payload: %w", err)
		}
		if msg.Lux == nil {
			return 0, fmt.Errorf("payload has no lux field")
		}
		v = *msg.Lux
	} else {
		var err error
		v, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid numeric payload %q", s)
		}
	}

	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid lux value %v", v)
	}
	return v, nil
}
