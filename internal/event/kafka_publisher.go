package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/statlinehq/statline-auth/pkg/kafka"
	"github.com/statlinehq/statline-auth/pkg/logger"
	"github.com/statlinehq/statline-auth/pkg/retry"
)

// Producer is the slice of the Kafka producer the publisher needs
type Producer interface {
	Produce(ctx context.Context, msg *kafka.Message) error
	ProduceJSON(ctx context.Context, topic, key string, data interface{}, headers map[string]string) error
}

// KafkaPublisherConfig contains configuration for the Kafka event publisher
type KafkaPublisherConfig struct {
	// Topic is the destination topic for security events
	Topic string
	// BufferSize is the in-flight event buffer; events beyond it are dropped
	BufferSize int
	// Source identifies this service in DLQ metadata
	Source string
	// DeliverTimeout bounds one delivery including retries
	DeliverTimeout time.Duration
}

// DefaultKafkaPublisherConfig returns default configuration
func DefaultKafkaPublisherConfig() *KafkaPublisherConfig {
	return &KafkaPublisherConfig{
		Topic:          "statline.auth.events",
		BufferSize:     256,
		Source:         "statline-auth",
		DeliverTimeout: 10 * time.Second,
	}
}

// KafkaPublisher delivers security events to Kafka off the request path.
// Publish enqueues; a worker goroutine produces with retry and moves
// persistently failing events to the DLQ topic.
type KafkaPublisher struct {
	producer Producer
	config   *KafkaPublisherConfig
	dlq      *retry.DLQHandler
	events   chan SecurityEvent
	stopCh   chan struct{}
	wg       sync.WaitGroup
	log      *logger.Logger
	mu       sync.Mutex
	running  bool
}

// NewKafkaPublisher creates a new KafkaPublisher
func NewKafkaPublisher(producer Producer, config *KafkaPublisherConfig) *KafkaPublisher {
	if config == nil {
		config = DefaultKafkaPublisherConfig()
	}
	if config.Topic == "" {
		config.Topic = "statline.auth.events"
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	if config.Source == "" {
		config.Source = "statline-auth"
	}
	if config.DeliverTimeout <= 0 {
		config.DeliverTimeout = 10 * time.Second
	}

	dlqPublisher := retry.NewKafkaDLQPublisher(producer, &retry.DLQConfig{
		TopicSuffix: ".dlq",
		Source:      config.Source,
	})
	handler := retry.NewDLQHandler(dlqPublisher, &retry.DLQHandlerConfig{
		RetryConfig: &retry.Config{
			MaxRetries:      3,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Multiplier:      2.0,
			JitterFactor:    0.1,
		},
		Source: config.Source,
	})

	return &KafkaPublisher{
		producer: producer,
		config:   config,
		dlq:      handler,
		events:   make(chan SecurityEvent, config.BufferSize),
		stopCh:   make(chan struct{}),
		log:      logger.Get(),
	}
}

// Start starts the delivery worker
func (p *KafkaPublisher) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("event publisher already running")
	}
	p.running = true
	p.mu.Unlock()

	p.log.Info("Starting security event publisher")

	p.wg.Add(1)
	go p.run()

	return nil
}

// Stop drains buffered events and stops the delivery worker
func (p *KafkaPublisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()
	p.log.Info("Security event publisher stopped")
}

// Publish enqueues a security event for delivery. A full buffer drops the
// event with a Warn rather than stalling the login path.
func (p *KafkaPublisher) Publish(ctx context.Context, ev SecurityEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	select {
	case p.events <- ev:
	default:
		p.log.Warn(fmt.Sprintf("Security event buffer full, dropping %s", ev.Event))
	}
}

func (p *KafkaPublisher) run() {
	defer p.wg.Done()

	for {
		select {
		case ev := <-p.events:
			p.deliver(ev)
		case <-p.stopCh:
			// Drain what was already buffered
			for {
				select {
				case ev := <-p.events:
					p.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *KafkaPublisher) deliver(ev SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.DeliverTimeout)
	defer cancel()

	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Error(fmt.Sprintf("Failed to marshal security event %s: %v", ev.Event, err))
		return
	}

	headers := map[string]string{
		"event_type":   ev.Event,
		"content_type": "application/json",
		"source":       p.config.Source,
	}

	msgCtx := &retry.MessageContext{
		ID:      uuid.New().String(),
		Topic:   p.config.Topic,
		Key:     ev.Key(),
		Payload: payload,
		Headers: headers,
	}

	err = p.dlq.ProcessWithDLQ(ctx, msgCtx, func(ctx context.Context) error {
		return p.producer.Produce(ctx, &kafka.Message{
			Topic:     p.config.Topic,
			Key:       []byte(ev.Key()),
			Value:     payload,
			Headers:   headers,
			Timestamp: ev.OccurredAt,
		})
	})
	if err != nil {
		p.log.Error(fmt.Sprintf("Failed to publish security event %s: %v", ev.Event, err))
	}
}

// Ensure KafkaPublisher implements Publisher
var _ Publisher = (*KafkaPublisher)(nil)
