package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/photofinder/internal/models"
)

const (
	PhotosStreamName    = "PHOTOS"
	PhotosSubjectBase   = "photos"
	RemovalsStreamName  = "REMOVALS"
	RemovalsSubjectBase = "removals"
)

// Streams returns the JetStream streams the service relies on.
func Streams() []jetstream.StreamConfig {
	return []jetstream.StreamConfig{
		{
			Name:        PhotosStreamName,
			Subjects:    []string{PhotosSubjectBase + ".>"},
			Retention:   jetstream.InterestPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Description: "Photo lifecycle notifications",
		},
		{
			Name:        RemovalsStreamName,
			Subjects:    []string{RemovalsSubjectBase + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      7 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Duplicates:  10 * time.Minute,
			Description: "Approved photo removal tasks",
		},
	}
}

// PhotoSubject is the subject a notification for a photo of eventID is published on.
func PhotoSubject(eventID uuid.UUID) string {
	return fmt.Sprintf("%s.%s", PhotosSubjectBase, eventID)
}

// RemovalSubject is the subject a removal task for photoID is published on.
func RemovalSubject(photoID uuid.UUID) string {
	return fmt.Sprintf("%s.%s", RemovalsSubjectBase, photoID)
}

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

// Producer publishes photo notifications and removal tasks. It implements
// pipeline.Notifier.
type Producer struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

func NewProducer(natsURL string, logger *slog.Logger) (*Producer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js, logger: logger}, nil
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := Streams()

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				p.logger.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			p.logger.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// NotifyPhoto publishes a photo lifecycle notification.
func (p *Producer) NotifyPhoto(ctx context.Context, n models.PhotoNotification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal photo notification: %w", err)
	}

	if _, err := p.js.Publish(ctx, PhotoSubject(n.EventID), payload); err != nil {
		return fmt.Errorf("publish photo notification: %w", err)
	}
	return nil
}

// PublishRemoval queues an approved removal request for the worker. The
// request id doubles as the message id, so re-approving within the stream's
// duplicate window publishes once.
func (p *Producer) PublishRemoval(ctx context.Context, task models.RemovalTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal removal task: %w", err)
	}

	_, err = p.js.Publish(ctx, RemovalSubject(task.PhotoID), payload, jetstream.WithMsgID(task.RequestID.String()))
	if err != nil {
		return fmt.Errorf("publish removal task: %w", err)
	}
	return nil
}

// QueueDepth returns the number of pending messages in the REMOVALS stream.
func (p *Producer) QueueDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, RemovalsStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
