package feed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/shopwise/listsync/encoding"
	"github.com/shopwise/listsync/telemetry"
)

// NATSConfig configures the NATS change feed transport
type NATSConfig struct {
	URL               string // NATS server URL
	SubjectPrefix     string // e.g. "shopwise"
	CompressThreshold int    // Frame compression threshold in bytes (0 = off)
	ClientName        string // Connection name shown by the server
}

// NATSTransport implements Transport and Publisher over NATS core subjects.
// Subject layout: <prefix>.<table>.<listToken>.<op>
type NATSTransport struct {
	nc        *nats.Conn
	prefix    string
	threshold int

	reconnectMu  sync.Mutex
	reconnectFns []func()
}

// NewNATSTransport connects to NATS with unlimited reconnects.
func NewNATSTransport(config NATSConfig) (*NATSTransport, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("nats transport requires a URL")
	}
	if config.SubjectPrefix == "" {
		return nil, fmt.Errorf("nats transport requires a subject prefix")
	}

	t := &NATSTransport{
		prefix:    config.SubjectPrefix,
		threshold: config.CompressThreshold,
	}

	nc, err := nats.Connect(config.URL,
		nats.Name(config.ClientName),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("Change feed disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("Change feed reconnected")
			t.fireReconnect()
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	t.nc = nc

	return t, nil
}

// natsSubscription groups the subject subscriptions backing one predicate
type natsSubscription struct {
	mu   sync.Mutex
	subs []*nats.Subscription
}

// Unsubscribe drops every subject subscription. Idempotent.
func (s *natsSubscription) Unsubscribe() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	var firstErr error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Subscribe registers the predicate as one or more NATS subject subscriptions.
func (t *NATSTransport) Subscribe(_ context.Context, p Predicate, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	matcher, err := p.Compile()
	if err != nil {
		return nil, err
	}

	msgHandler := func(msg *nats.Msg) {
		var event ChangeEvent
		if err := encoding.DecodeFrame(msg.Data, &event); err != nil {
			telemetry.DecodeFailuresTotal.Inc()
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("Failed to decode change event")
			return
		}
		// Subject tokens are sanitized, so the exact list id is rechecked here
		if !matcher.Match(event) {
			return
		}
		telemetry.ChangeEventsTotal.With(event.Operation.String()).Inc()
		handler(event)
	}

	out := &natsSubscription{}
	for _, subject := range SubjectsFor(t.prefix, p) {
		sub, err := t.nc.Subscribe(subject, msgHandler)
		if err != nil {
			out.Unsubscribe()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		out.subs = append(out.subs, sub)
	}

	log.Debug().Str("channel", p.Channel).Str("predicate", p.String()).Msg("Subscribed to change feed")
	return out, nil
}

// Publish encodes the event and publishes it on its subject.
func (t *NATSTransport) Publish(_ context.Context, event ChangeEvent) error {
	data, err := encoding.EncodeFrame(event, t.threshold)
	if err != nil {
		return fmt.Errorf("failed to encode change event: %w", err)
	}

	msg := &nats.Msg{
		Subject: SubjectFor(t.prefix, event),
		Data:    data,
		Header:  nats.Header{"actor": []string{event.ActorID}},
	}
	if err := t.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", msg.Subject, err)
	}
	return nil
}

// OnReconnect registers a callback fired after NATS reconnects.
func (t *NATSTransport) OnReconnect(fn func()) {
	t.reconnectMu.Lock()
	t.reconnectFns = append(t.reconnectFns, fn)
	t.reconnectMu.Unlock()
}

func (t *NATSTransport) fireReconnect() {
	t.reconnectMu.Lock()
	fns := make([]func(), len(t.reconnectFns))
	copy(fns, t.reconnectFns)
	t.reconnectMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Close flushes pending publishes and closes the connection.
func (t *NATSTransport) Close() error {
	if t.nc == nil {
		return nil
	}
	if err := t.nc.Flush(); err != nil && err != nats.ErrConnectionClosed {
		log.Warn().Err(err).Msg("Failed to flush change feed before close")
	}
	t.nc.Close()
	return nil
}

// SubjectFor returns the subject an event is published on.
func SubjectFor(prefix string, event ChangeEvent) string {
	return strings.Join([]string{
		prefix,
		SubjectToken(string(event.Table)),
		SubjectToken(event.Row.ListID),
		event.Operation.String(),
	}, ".")
}

// SubjectsFor returns the subjects that implement predicate p.
// A predicate over all operations maps to one wildcard subject; otherwise
// there is one subject per operation.
func SubjectsFor(prefix string, p Predicate) []string {
	table := "*"
	if p.Table != "" && !strings.ContainsAny(p.Table, "*?[{") {
		table = SubjectToken(p.Table)
	}
	list := "*"
	if p.ListID != "" {
		list = SubjectToken(p.ListID)
	}

	base := strings.Join([]string{prefix, table, list}, ".")
	if p.AllEvents() {
		return []string{base + ".*"}
	}

	subjects := make([]string, 0, len(p.Events))
	for _, op := range p.Events {
		subjects = append(subjects, base+"."+op.String())
	}
	return subjects
}

// SubjectToken makes s safe to use as a single NATS subject token.
// Separators and wildcards become underscores.
func SubjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
