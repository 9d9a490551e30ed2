package display

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/MrWong99/lingoxa/internal/bus"
)

const (
	defaultTopicPrefix = "lingoxa"
	defaultQueueSize   = 64
	publishTimeout     = 2 * time.Second
	disconnectQuiesce  = 250 // ms
)

// MQTTConfig configures a [Bridge].
type MQTTConfig struct {
	// BrokerURL is the broker address, e.g. "tcp://localhost:1883".
	BrokerURL string

	// ClientID defaults to "lingoxa-<uuid>".
	ClientID string

	Username string
	Password string

	// TopicPrefix is prepended to every topic. Defaults to "lingoxa".
	TopicPrefix string

	// QoS is the publish quality of service (0, 1 or 2).
	QoS byte

	// Topics restricts the forwarded events. Defaults to [DefaultTopics].
	Topics []string

	// QueueSize is how many encoded events may wait for the broker before
	// new ones are dropped. Defaults to 64.
	QueueSize int
}

// publisher is the subset of [paho.Client] used to forward events.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
}

// Bridge republishes bus events on an MQTT broker. Event "stt.final_sentence"
// goes to "<prefix>/stt/final_sentence". The retained "<prefix>/status"
// topic reads "online" while connected and "offline" otherwise.
//
// Bus handlers only enqueue. A single goroutine publishes and waits for the
// broker, so a slow or unreachable broker never stalls the publisher of an
// event.
type Bridge struct {
	cfg     MQTTConfig
	topics  map[string]bool
	client  paho.Client
	queue   chan outgoing
	running atomic.Bool
	dropped atomic.Uint64
	timeout time.Duration
}

type outgoing struct {
	topic string
	data  []byte
}

// NewBridge returns an unconnected bridge.
func NewBridge(cfg MQTTConfig) *Bridge {
	if cfg.ClientID == "" {
		cfg.ClientID = "lingoxa-" + uuid.NewString()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = defaultTopicPrefix
	}
	cfg.TopicPrefix = strings.TrimSuffix(cfg.TopicPrefix, "/")
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Bridge{
		cfg:     cfg,
		topics:  topicSet(cfg.Topics),
		queue:   make(chan outgoing, cfg.QueueSize),
		timeout: publishTimeout,
	}
}

// Dropped returns how many events were discarded on a full queue.
func (b *Bridge) Dropped() uint64 { return b.dropped.Load() }

// Topic maps a bus topic to its MQTT topic under prefix.
func Topic(prefix, event string) string {
	return prefix + "/" + strings.ReplaceAll(event, ".", "/")
}

// StatusTopic returns the retained availability topic under prefix.
func StatusTopic(prefix string) string {
	return prefix + "/status"
}

// Start connects to the broker and announces the bridge as online. The
// connection is closed when ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	if b.cfg.BrokerURL == "" {
		return errors.New("display: mqtt broker url must not be empty")
	}
	status := StatusTopic(b.cfg.TopicPrefix)
	opts := paho.NewClientOptions().
		AddBroker(b.cfg.BrokerURL).
		SetClientID(b.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetBinaryWill(status, []byte("offline"), 1, true)

	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		slog.Error("display: mqtt connection lost", "err", err)
	})
	opts.SetOnConnectHandler(func(c paho.Client) {
		c.Publish(status, 1, true, "online")
		slog.Info("display: mqtt connected", "broker", b.cfg.BrokerURL, "prefix", b.cfg.TopicPrefix)
	})

	b.client = paho.NewClient(opts)
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	done := b.run(ctx, b.client)
	go func() {
		<-done
		b.client.Publish(status, 1, true, "offline").WaitTimeout(publishTimeout)
		b.client.Disconnect(disconnectQuiesce)
	}()
	return nil
}

// run marks the bridge as running and starts the goroutine draining the
// queue into pub. The returned channel closes once it has stopped.
func (b *Bridge) run(ctx context.Context, pub publisher) <-chan struct{} {
	b.running.Store(true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer b.running.Store(false)
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-b.queue:
				b.publish(pub, m)
			}
		}
	}()
	return done
}

func (b *Bridge) publish(pub publisher, m outgoing) {
	token := pub.Publish(m.topic, b.cfg.QoS, false, m.data)
	if !token.WaitTimeout(b.timeout) {
		slog.Warn("display: mqtt publish timed out", "topic", m.topic)
		return
	}
	if err := token.Error(); err != nil {
		slog.Warn("display: mqtt publish failed", "topic", m.topic, "err", err)
	}
}

// Attach forwards every matching event on bus to the broker.
func (b *Bridge) Attach(eb *bus.Bus) (detach func()) {
	return eb.SubscribeAll(b.handle)
}

func (b *Bridge) handle(e bus.Event) {
	if !b.running.Load() || !b.topics[e.Topic] {
		return
	}
	data, err := Encode(e)
	if err != nil {
		slog.Warn("display: dropping event", "topic", e.Topic, "err", err)
		return
	}
	select {
	case b.queue <- outgoing{topic: Topic(b.cfg.TopicPrefix, e.Topic), data: data}:
	default:
		b.dropped.Add(1)
		slog.Debug("display: mqtt queue full, dropping event", "topic", e.Topic)
	}
}
