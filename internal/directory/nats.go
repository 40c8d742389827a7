package directory

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"net"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	gossipStreamName          = "TPU_GOSSIP"
	gossipSubjectPattern      = "TPU.GOSSIP.*"
	gossipStreamCreateTimeout = 10 * time.Second
	gossipConsumerAckWait     = 5 * time.Second
	gossipPublishTimeout      = 2 * time.Second
)

// natsTransport publishes and consumes gossip snapshots as JetStream
// messages on subject TPU.GOSSIP.<node-id> rather than raw UDP datagrams.
// Selected via gossip.transport = "nats" (SPEC_FULL §2.4).
type natsTransport struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	subject  string // this node's own publish subject
	logger   *zerolog.Logger
}

// NewNATSTransport connects to natsURL, ensures the TPU_GOSSIP stream
// exists, and creates a durable pull consumer named after nodeName so a
// restarted node resumes from where it left off rather than replaying the
// whole retention window.
func NewNATSTransport(natsURL, nodeName string, logger *zerolog.Logger) (Transport, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("ledger-tpu-gossip"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error().Err(err).Msg("nats gossip transport disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("nats gossip transport reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("directory: connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("directory: create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), gossipStreamCreateTimeout)
	defer cancel()

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      gossipStreamName,
		Subjects:  []string{gossipSubjectPattern},
		MaxAge:    time.Hour,
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("directory: create gossip stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:   "gossip-" + nodeName,
		AckPolicy: jetstream.AckExplicitPolicy,
		AckWait:   gossipConsumerAckWait,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("directory: create gossip consumer: %w", err)
	}

	logger.Info().
		Str("stream", gossipStreamName).
		Str("consumer", "gossip-"+nodeName).
		Msg("nats gossip transport initialized")

	return &natsTransport{
		nc:       nc,
		js:       js,
		consumer: consumer,
		subject:  "TPU.GOSSIP." + nodeName,
		logger:   logger,
	}, nil
}

// Send publishes snap once to this node's own gossip subject; targets is
// ignored because JetStream fans the message out to every subscriber, not
// to an explicit address list (gossip is subject-addressed, not
// peer-addressed, under this transport).
func (t *natsTransport) Send(snap snapshot, _ []net.Addr) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), gossipPublishTimeout)
	defer cancel()

	_, err := t.js.Publish(ctx, t.subject, buf.Bytes())
	if err != nil {
		t.logger.Debug().Err(err).Str("subject", t.subject).Msg("nats gossip publish failed")
		return fmt.Errorf("directory: publish gossip snapshot: %w", err)
	}
	return nil
}

// Recv pulls up to one message from the durable consumer, blocking up to
// timeout.
func (t *natsTransport) Recv(timeout time.Duration) (snapshot, error) {
	msgs, err := t.consumer.Fetch(1, jetstream.FetchMaxWait(timeout))
	if err != nil {
		return snapshot{}, err
	}

	for msg := range msgs.Messages() {
		var snap snapshot
		if err := gob.NewDecoder(bytes.NewReader(msg.Data())).Decode(&snap); err != nil {
			msg.Nak()
			return snapshot{}, err
		}
		msg.Ack()
		return snap, nil
	}
	if err := msgs.Error(); err != nil {
		return snapshot{}, err
	}
	return snapshot{}, fmt.Errorf("directory: no gossip message within %s", timeout)
}

func (t *natsTransport) Close() error {
	t.nc.Close()
	return nil
}
