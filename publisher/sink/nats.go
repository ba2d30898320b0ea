package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/maxpert/waljson/cfg"
	"github.com/maxpert/waljson/publisher"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	natsPublishTimeout = 5 * time.Second
	natsStreamMaxAge   = 24 * time.Hour
)

func init() {
	publisher.RegisterSink("nats", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		if config.NatsURL == "" {
			return nil, fmt.Errorf("nats sink requires nats_url")
		}
		return NewNatsSink(config.NatsURL)
	})
}

// NatsSink publishes every unit to a JetStream subject
type NatsSink struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	streams *xsync.MapOf[string, struct{}]
}

// NewNatsSink connects to url and creates a JetStream context
func NewNatsSink(url string) (*NatsSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("waljson"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NatsSink{nc: nc, js: js, streams: xsync.NewMapOf[string, struct{}]()}, nil
}

// Publish sends one unit with the transaction ID in a header
func (n *NatsSink) Publish(topic, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), natsPublishTimeout)
	defer cancel()

	if err := n.ensureStream(ctx, topic); err != nil {
		return err
	}

	msg := &nats.Msg{
		Subject: topic,
		Data:    value,
		Header:  nats.Header{XidHeader: []string{key}},
	}
	if _, err := n.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// ensureStream creates the stream backing topic once per sink
func (n *NatsSink) ensureStream(ctx context.Context, topic string) error {
	if _, ok := n.streams.Load(topic); ok {
		return nil
	}

	name := streamName(topic)
	_, err := n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{topic},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    natsStreamMaxAge,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", name, err)
	}

	n.streams.Store(topic, struct{}{})
	return nil
}

// Close drains nothing; JetStream publishes are acknowledged synchronously
func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

var streamNameReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// streamName derives a valid JetStream stream name from a subject
func streamName(topic string) string {
	return strings.ToUpper(streamNameReplacer.Replace(topic))
}
