package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/safeway/safeway/internal/provider/resilience"
)

// Job types accepted on the subscription.
const (
	JobCacheWarm   = "cache_warm"
	JobHealthCheck = "health_check"
)

// PubSubHandler handles Pub/Sub messages for the worker.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	dispatcher       *Dispatcher
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	WarmJob          *WarmJob
	Registry         *resilience.Registry
	Logger           zerolog.Logger
}

// WarmMessage represents a cache warm job message.
type WarmMessage struct {
	JobType string `json:"job_type"`
	// Areas optionally adds crowd area scopes to this run, one list per scope.
	Areas [][]string `json:"areas,omitempty"`
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Configure receive settings.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 2
	subscriber.ReceiveSettings.MaxExtension = 5 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		dispatcher:       NewDispatcher(cfg.WarmJob, cfg.Registry, cfg.Logger),
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received pubsub message")

	if h.dispatcher.Handle(logger.WithContext(ctx), msg.Data) {
		msg.Ack()
		return
	}
	msg.Nack()
}

// Dispatcher routes decoded job messages to the warm job.
type Dispatcher struct {
	job      *WarmJob
	registry *resilience.Registry
	logger   zerolog.Logger
}

// NewDispatcher creates a Dispatcher. registry may be nil.
func NewDispatcher(job *WarmJob, registry *resilience.Registry, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{job: job, registry: registry, logger: logger}
}

// Handle runs the job named in data and reports whether the message should
// be acknowledged. Malformed messages and failed jobs are not.
func (d *Dispatcher) Handle(ctx context.Context, data []byte) bool {
	startTime := time.Now()

	var msg WarmMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		d.logger.Error().Err(err).Msg("failed to parse message")
		return false
	}

	var err error
	switch msg.JobType {
	case JobCacheWarm:
		err = d.handleCacheWarm(ctx, msg)
	case JobHealthCheck:
		err = d.handleHealthCheck()
	default:
		// Ack unknown messages to prevent redelivery.
		d.logger.Warn().Str("job_type", msg.JobType).Msg("unknown job type")
		return true
	}

	if err != nil {
		d.logger.Error().Err(err).Str("job_type", msg.JobType).Msg("job failed")
		return false
	}

	d.logger.Info().
		Str("job_type", msg.JobType).
		Dur("duration", time.Since(startTime)).
		Msg("job completed successfully")
	return true
}

func (d *Dispatcher) handleCacheWarm(ctx context.Context, msg WarmMessage) error {
	var result *WarmResult
	if len(msg.Areas) > 0 {
		result = d.job.RunAreas(ctx, msg.Areas...)
	} else {
		result = d.job.Run(ctx)
	}

	if result.Failed > result.Successful {
		return fmt.Errorf("too many warm failures: %d/%d", result.Failed, len(result.Writes))
	}
	return nil
}

// handleHealthCheck fails while any provider circuit is open.
func (d *Dispatcher) handleHealthCheck() error {
	if d.registry == nil {
		return nil
	}
	var open []string
	for _, h := range d.registry.GetAllHealth() {
		if h.IsUnhealthy() {
			open = append(open, h.Name)
		}
	}
	if len(open) > 0 {
		return fmt.Errorf("providers unavailable: %s", strings.Join(open, ", "))
	}
	d.logger.Debug().Int("providers", d.registry.ProviderCount()).Msg("health check passed")
	return nil
}
