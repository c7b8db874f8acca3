package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sweeney/gaming-server/internal/orchestrator"
)

const (
	// ClientID identifies the daemon to the broker.
	ClientID = "gaming-server"

	// BufferSize is how many messages are held while the broker is unreachable.
	BufferSize = 100

	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	log    zerolog.Logger

	mu        sync.Mutex
	buf       *ringBuffer
	connected bool // at least one connection has been established
}

// NewRealPublisher creates a publisher for the given broker URL. An
// unreachable broker is not an error: paho keeps retrying in the background.
func NewRealPublisher(broker string, log zerolog.Logger) (*RealPublisher, error) {
	p := &RealPublisher{
		log: log,
		buf: newRingBuffer(BufferSize),
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(WillPayload(time.Now())), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.Warn().Str("broker", broker).Msg("broker not reachable yet, buffering until connected")
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// Publish sends a state transition. QoS 0, not retained.
func (p *RealPublisher) Publish(t orchestrator.Transition) error {
	payload, err := FormatPayload(t)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.send(bufferedMsg{topic: Topic, payload: payload})
}

// PublishSystem sends a lifecycle event. QoS 1 so shutdown notices arrive.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.send(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

// IsConnected reports whether the broker connection is currently open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		dropped := p.buf.push(msg)
		n := p.buf.len()
		p.mu.Unlock()
		if dropped {
			p.log.Warn().Int("capacity", BufferSize).Msg("buffer full, dropping oldest")
		}
		p.log.Debug().Str("topic", msg.topic).Int("buffered", n).Msg("broker disconnected, message buffered")
		return nil
	}

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	pending := p.buf.drainAll()
	reconnect := p.connected
	p.connected = true
	p.mu.Unlock()

	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		c.Publish(TopicSystem, 1, false, payload)
	}
	for _, msg := range pending {
		c.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	}
	p.log.Info().Bool("reconnect", reconnect).Int("replayed", len(pending)).Msg("connected to broker")
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.log.Warn().Err(err).Msg("broker connection lost")
}
