package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/jordanhubbard/axis/pkg/config"
)

const subjectPrefix = "axis.jobs."

// NATSQueue is a JetStream work queue with a durable pull consumer.
// AckWait acts as the visibility timeout: a job whose worker dies is
// redelivered once it expires. Deferred jobs are held back with NakWithDelay.
type NATSQueue struct {
	logger     *zap.Logger
	conn       *nats.Conn
	js         nats.JetStreamContext
	streamName string
	durable    string
	ackWait    time.Duration
	maxDeliver int
	workers    int

	mu   sync.Mutex
	subs []*nats.Subscription
	wg   sync.WaitGroup
}

var _ Queue = (*NATSQueue)(nil)

// NewNATSQueue connects to NATS and ensures the job stream exists
func NewNATSQueue(cfg config.QueueConfig, logger *zap.Logger) (*NATSQueue, error) {
	if cfg.NATSURL == "" {
		cfg.NATSURL = nats.DefaultURL
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "AXIS_JOBS"
	}
	if cfg.Durable == "" {
		cfg.Durable = "axis-worker"
	}
	if cfg.AckWait == 0 {
		cfg.AckWait = 5 * time.Minute
	}
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = 5
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("queue")

	nc, err := nats.Connect(cfg.NATSURL,
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	q := &NATSQueue{
		logger:     logger,
		conn:       nc,
		js:         js,
		streamName: cfg.StreamName,
		durable:    cfg.Durable,
		ackWait:    cfg.AckWait,
		maxDeliver: cfg.MaxDeliver,
		workers:    cfg.Workers,
	}
	if err := q.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	logger.Info("Connected to NATS", zap.String("url", cfg.NATSURL), zap.String("stream", cfg.StreamName))
	return q, nil
}

// ensureStream creates or updates the job stream. Work-queue retention
// removes a message once it is acked.
func (q *NATSQueue) ensureStream() error {
	streamConfig := &nats.StreamConfig{
		Name:      q.streamName,
		Subjects:  []string{subjectPrefix + ">"},
		Retention: nats.WorkQueuePolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   nats.FileStorage,
		Replicas:  1,
	}

	if _, err := q.js.StreamInfo(q.streamName); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return err
		}
		if _, err := q.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		q.logger.Info("Created JetStream stream", zap.String("stream", q.streamName))
		return nil
	}

	if _, err := q.js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	return nil
}

// Enqueue publishes job. A positive delay is enforced by the consumer.
func (q *NATSQueue) Enqueue(ctx context.Context, job *Job, delay time.Duration) error {
	if err := job.Validate(); err != nil {
		return err
	}
	job.stamp(delay)

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	// the job id doubles as the dedup key for publisher retries
	if _, err := q.js.Publish(subjectPrefix+string(job.Kind), data, nats.Context(ctx), nats.MsgId(job.ID)); err != nil {
		return fmt.Errorf("failed to publish job %s: %w", job.ID, err)
	}
	return nil
}

// Start binds the durable pull consumer and launches workers
func (q *NATSQueue) Start(ctx context.Context, handler Handler) error {
	for i := 0; i < q.workers; i++ {
		sub, err := q.js.PullSubscribe(subjectPrefix+">", q.durable,
			nats.BindStream(q.streamName),
			nats.AckExplicit(),
			nats.AckWait(q.ackWait),
			nats.MaxDeliver(q.maxDeliver),
		)
		if err != nil {
			return fmt.Errorf("failed to subscribe consumer %s: %w", q.durable, err)
		}

		q.mu.Lock()
		q.subs = append(q.subs, sub)
		q.mu.Unlock()

		q.wg.Add(1)
		go q.worker(ctx, sub, handler)
	}

	q.logger.Info("NATS queue started", zap.String("consumer", q.durable), zap.Int("workers", q.workers))
	return nil
}

func (q *NATSQueue) worker(ctx context.Context, sub *nats.Subscription, handler Handler) {
	defer q.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return
			}
			q.logger.Warn("Fetch failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range msgs {
			q.process(ctx, msg, handler)
		}
	}
}

func (q *NATSQueue) process(ctx context.Context, msg *nats.Msg, handler Handler) {
	var job Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		q.logger.Error("Discarding malformed job", zap.Error(err))
		_ = msg.Term()
		return
	}

	delivered := 1
	if meta, err := msg.Metadata(); err == nil {
		delivered = int(meta.NumDelivered)
	}

	if wait := time.Until(job.NotBefore); wait > 0 {
		// not due yet: hand it back without counting it as a failure
		if err := msg.NakWithDelay(wait); err != nil {
			q.logger.Warn("Failed to defer job", zap.String("job_id", job.ID), zap.Error(err))
		}
		return
	}

	err := handler(ctx, &job)
	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			q.logger.Warn("Failed to ack job", zap.String("job_id", job.ID), zap.Error(ackErr))
		}
		return
	}

	fields := []zap.Field{
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.Int("delivered", delivered),
		zap.Error(err),
	}
	if IsPermanent(err) || delivered >= q.maxDeliver {
		q.logger.Error("Dropping job", fields...)
		_ = msg.Term()
		return
	}
	q.logger.Warn("Job failed, redelivering", fields...)
	_ = msg.NakWithDelay(redeliveryDelay(delivered))
}

// Health reports whether the connection and stream are usable
func (q *NATSQueue) Health() error {
	if !q.conn.IsConnected() {
		return errors.New("NATS is not connected")
	}
	if _, err := q.js.StreamInfo(q.streamName); err != nil {
		return fmt.Errorf("JetStream stream %s is unhealthy: %w", q.streamName, err)
	}
	return nil
}

// Close drains the workers and closes the connection
func (q *NATSQueue) Close() error {
	q.mu.Lock()
	for _, sub := range q.subs {
		_ = sub.Unsubscribe()
	}
	q.subs = nil
	q.mu.Unlock()

	q.wg.Wait()
	q.conn.Close()
	q.logger.Info("Closed NATS connection")
	return nil
}
