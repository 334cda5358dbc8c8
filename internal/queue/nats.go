// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/lostsec/killfeed/internal/config"
	"github.com/lostsec/killfeed/internal/logging"
	"github.com/lostsec/killfeed/internal/metrics"
)

// NatsQueue is the durable queue implementation on NATS JetStream via
// Watermill. Consumers share a queue group, so adding instances scales
// horizontally without duplicate delivery.
type NatsQueue struct {
	cfg        config.NATSConfig
	publisher  message.Publisher
	subscriber message.Subscriber

	mu     sync.Mutex
	closed bool
}

// NewNatsQueue connects to NATS, provisions the job stream if missing,
// and builds the Watermill publisher/subscriber pair.
func NewNatsQueue(cfg config.NATSConfig) (*NatsQueue, error) {
	logger := newWatermillLogger()

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	if err := provisionStream(cfg, natsOpts); err != nil {
		return nil, err
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false, // provisionStream owns the stream
			TrackMsgId:    true,  // job ULID doubles as the dedup key
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: 1, // consumer concurrency is managed in Run
		AckWaitTimeout:   cfg.AckWait,
		CloseTimeout:     30 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false,
			AckAsync:      false,
			DurablePrefix: cfg.DurableName,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.BindStream(cfg.StreamName),
				natsgo.MaxDeliver(10),
				natsgo.MaxAckPending(64),
				natsgo.AckWait(cfg.AckWait),
				natsgo.DeliverAll(),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue subscriber: %w", err)
	}

	return &NatsQueue{cfg: cfg, publisher: pub, subscriber: sub}, nil
}

// provisionStream creates the job stream when it does not exist yet.
// Stream names cannot contain wildcards, so AutoProvision cannot do
// this for the killfeed.jobs.> subject space.
func provisionStream(cfg config.NATSConfig, opts []natsgo.Option) error {
	nc, err := natsgo.Connect(cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	_, err = js.StreamInfo(cfg.StreamName)
	if err == nil {
		return nil
	}

	_, err = js.AddStream(&natsgo.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  []string{"killfeed.jobs.>"},
		Retention: natsgo.WorkQueuePolicy,
		Storage:   natsgo.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to provision stream %s: %w", cfg.StreamName, err)
	}

	logging.Info().Str("stream", cfg.StreamName).Msg("Provisioned job stream")
	return nil
}

// Enqueue publishes a job on its kind's topic.
func (q *NatsQueue) Enqueue(_ context.Context, job *Job) error {
	msg, err := job.Marshal()
	if err != nil {
		return err
	}
	if err := q.publisher.Publish(job.Kind.Topic(), msg); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	metrics.QueueMessages.WithLabelValues(string(job.Kind), "published").Inc()
	return nil
}

// Run consumes jobs of one kind until ctx is cancelled, fanning out to
// at most concurrency handler invocations at once. A handler left
// running at cancellation finishes its in-flight job.
func (q *NatsQueue) Run(ctx context.Context, kind JobKind, concurrency int, handle Handler) error {
	if concurrency < 1 {
		concurrency = 1
	}

	msgs, err := q.subscriber.Subscribe(ctx, kind.Topic())
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", kind.Topic(), err)
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for msg := range msgs {
		sem <- struct{}{}
		wg.Add(1)
		go func(msg *message.Message) {
			defer wg.Done()
			defer func() { <-sem }()
			q.dispatch(ctx, kind, msg, handle)
		}(msg)
	}

	wg.Wait()
	return ctx.Err()
}

func (q *NatsQueue) dispatch(ctx context.Context, kind JobKind, msg *message.Message, handle Handler) {
	job, err := UnmarshalJob(msg)
	if err != nil {
		// A payload that cannot decode will never decode; drop it.
		logging.Error().Err(err).Str("message_uuid", msg.UUID).Msg("Dropping undecodable job message")
		metrics.QueueMessages.WithLabelValues(string(kind), "dropped").Inc()
		msg.Ack()
		return
	}

	outcome := handle(ctx, job)
	metrics.QueueMessages.WithLabelValues(string(kind), outcome.String()).Inc()

	switch outcome {
	case NackRequeue:
		msg.Nack()
	default:
		// Ack and NackDrop both complete the message; the difference is
		// only in the tally.
		msg.Ack()
	}
}

// Close shuts down the publisher and subscriber.
func (q *NatsQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true

	if err := q.publisher.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close queue publisher")
	}
	return q.subscriber.Close()
}
