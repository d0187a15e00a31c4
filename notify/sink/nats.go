package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shopwise/listsync/cfg"
	"github.com/shopwise/listsync/encoding"
	"github.com/shopwise/listsync/feed"
	"github.com/shopwise/listsync/notify"
)

func init() {
	notify.RegisterSink(cfg.SinkNATS, func(config cfg.NotificationConfiguration, deviceID string) (notify.Sink, error) {
		if config.NatsURL == "" {
			return nil, fmt.Errorf("nats sink requires nats_url")
		}
		return NewNatsSink(config.NatsURL, config.Topic, deviceID)
	})
}

// NatsSink forwards intents to a device-scoped NATS subject. Subscribers
// see every message, so it does not coalesce.
type NatsSink struct {
	nc      *nats.Conn
	subject string
}

// NewNatsSink connects to NATS and publishes to <topic>.<deviceID>
func NewNatsSink(url, topic, deviceID string) (*NatsSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("listsync-notify-"+deviceID),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NatsSink{nc: nc, subject: NotificationSubject(topic, deviceID)}, nil
}

// NotificationSubject returns the subject intents for a device go to
func NotificationSubject(topic, deviceID string) string {
	return topic + "." + feed.SubjectToken(deviceID)
}

// Send publishes the intent with its tag as a header
func (n *NatsSink) Send(ctx context.Context, intent notify.Intent) error {
	data, err := encoding.EncodeFrame(intent, encoding.DefaultCompressThreshold)
	if err != nil {
		return fmt.Errorf("failed to encode intent: %w", err)
	}

	msg := &nats.Msg{
		Subject: n.subject,
		Data:    data,
		Header:  nats.Header{"tag": []string{intent.Tag}},
	}

	if err := n.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", n.subject, err)
	}

	return n.nc.FlushWithContext(ctx)
}

// CoalescesByTag is always false
func (n *NatsSink) CoalescesByTag() bool {
	return false
}

// Close releases the NATS connection
func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}
