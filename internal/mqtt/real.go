package mqtt

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/sweeney/smartfan/internal/logic"
	"github.com/sweeney/smartfan/internal/store"
)

const (
	defaultBufferSize = 256
	publishTimeout    = 5 * time.Second
)

// Options configures a broker connection.
type Options struct {
	Broker      string
	ClientID    string // empty derives "smartfan-<uuid>"
	TopicPrefix string
	BufferSize  int // offline ring buffer capacity; 0 uses the default

	// OnConnectionChange is called from paho's goroutines when the
	// connection comes up or is lost. May be nil.
	OnConnectionChange func(connected bool)
}

// ClientID returns base with a random suffix so two processes on one host
// never steal each other's session. An empty base becomes "smartfan".
func ClientID(base string) string {
	if base == "" {
		base = "smartfan"
	}
	return base + "-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

func clientOptions(o Options) *paho.ClientOptions {
	return paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(ClientID(o.ClientID)).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed in order on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics

	mu  sync.Mutex
	buf *ringBuffer
}

// NewRealPublisher starts connecting to the broker and returns immediately.
// An unreachable broker is retried in the background.
func NewRealPublisher(o Options) *RealPublisher {
	size := o.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	p := &RealPublisher{
		topics: NewTopics(o.TopicPrefix),
		buf:    newRingBuffer(size),
	}

	opts := clientOptions(o).
		SetWill(p.topics.System, string(WillPayload(time.Now())), 1, false).
		SetOnConnectHandler(func(c paho.Client) {
			slog.Info("mqtt connected", "broker", o.Broker)
			p.flush(c)
			if o.OnConnectionChange != nil {
				o.OnConnectionChange(true)
			}
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			slog.Warn("mqtt connection lost", "error", err)
			if o.OnConnectionChange != nil {
				o.OnConnectionChange(false)
			}
		})

	p.client = paho.NewClient(opts)
	p.client.Connect()
	return p
}

// flush replays buffered messages. The lock is held so that new publishes
// queue behind the replay and order is preserved.
func (p *RealPublisher) flush(c paho.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.buf.drainAll()
	for _, m := range msgs {
		c.Publish(m.topic, m.qos, m.retained, m.payload)
	}
	if len(msgs) > 0 {
		slog.Info("mqtt replayed buffered messages", "count", len(msgs))
	}
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	p.mu.Lock()
	if !p.client.IsConnectionOpen() {
		p.buf.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}
	token := p.client.Publish(topic, qos, retained, payload)
	p.mu.Unlock()

	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishEvent sends an accepted event (QoS 0, not retained).
func (p *RealPublisher) PublishEvent(ev store.Event) error {
	payload, err := FormatEventPayload(ev)
	if err != nil {
		return fmt.Errorf("format event payload: %w", err)
	}
	return p.publish(p.topics.Events, 0, false, payload)
}

// PublishDesired sends the retained desired state (QoS 1).
func (p *RealPublisher) PublishDesired(s logic.State) error {
	payload, err := FormatDesiredPayload(s)
	if err != nil {
		return fmt.Errorf("format desired payload: %w", err)
	}
	return p.publish(p.topics.Desired, 1, true, payload)
}

// PublishSystem sends a system lifecycle event (QoS 1).
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(p.topics.System, 1, event.Retained, payload)
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}

// Subscriber delivers payloads published on a topic.
type Subscriber interface {
	Subscribe(topic string, handler func(payload []byte)) error
	Close() error
}

// RealSubscriber subscribes on an actual MQTT broker. Subscriptions are
// re-established after every reconnect.
type RealSubscriber struct {
	client paho.Client

	mu   sync.Mutex
	subs map[string]func([]byte)
}

// NewRealSubscriber starts connecting to the broker and returns immediately.
func NewRealSubscriber(o Options) *RealSubscriber {
	s := &RealSubscriber{subs: make(map[string]func([]byte))}
	opts := clientOptions(o).
		SetOnConnectHandler(func(c paho.Client) {
			slog.Info("mqtt subscriber connected", "broker", o.Broker)
			s.mu.Lock()
			defer s.mu.Unlock()
			for topic, h := range s.subs {
				s.subscribe(c, topic, h)
			}
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			slog.Warn("mqtt subscriber connection lost", "error", err)
		})
	s.client = paho.NewClient(opts)
	s.client.Connect()
	return s
}

func (s *RealSubscriber) subscribe(c paho.Client, topic string, handler func([]byte)) paho.Token {
	return c.Subscribe(topic, 0, func(_ paho.Client, m paho.Message) {
		handler(m.Payload())
	})
}

// Subscribe registers handler for topic. If the connection is not up yet
// the subscription is made when it comes up.
func (s *RealSubscriber) Subscribe(topic string, handler func(payload []byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[topic] = handler
	if !s.client.IsConnectionOpen() {
		return nil
	}
	token := s.subscribe(s.client, topic, handler)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (s *RealSubscriber) Close() error {
	s.client.Disconnect(250)
	return nil
}
