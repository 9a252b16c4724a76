package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gptstore-api/internal/dto"
	"github.com/noah-isme/gptstore-api/internal/observability"
)

const validationEventBufferSize = 16

// allSubmissions subscribes to events for every submission.
const allSubmissions = ""

// ValidationEventBus fans validation completions out to stream subscribers,
// locally and across instances through Redis pub/sub and NATS.
type ValidationEventBus interface {
	Publish(ctx context.Context, event dto.ValidationEvent)
	Subscribe(submissionID string) (<-chan dto.ValidationEvent, func())
	Start(ctx context.Context) error
}

type validationEventBus struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
	broker       *validationBroker
	nodeID       string
}

type validationEnvelope struct {
	Source string              `json:"source"`
	Event  dto.ValidationEvent `json:"event"`
	SentAt time.Time           `json:"sent_at"`
}

type validationBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan dto.ValidationEvent]struct{}
}

// NewValidationEventBus constructs the event bus. Redis and NATS are optional.
func NewValidationEventBus(redisClient *redis.Client, channelBase string, natsConn *nats.Conn, logger zerolog.Logger) ValidationEventBus {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":validations"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".validations"
	}

	return &validationEventBus{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "validation_events").Logger(),
		broker: &validationBroker{
			subscribers: make(map[string]map[chan dto.ValidationEvent]struct{}),
		},
		nodeID: uuid.NewString(),
	}
}

// Start attaches the remote consumers. It returns once the subscriptions are live.
func (b *validationEventBus) Start(ctx context.Context) error {
	if b.redis != nil && b.redisChannel != "" {
		pubsub := b.redis.Subscribe(ctx, b.redisChannel)
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			return err
		}
		go b.consumeRedis(ctx, pubsub)
	}
	if b.nats != nil && b.natsSubject != "" {
		sub, err := b.nats.Subscribe(b.natsSubject, func(msg *nats.Msg) {
			b.handleEnvelope(msg.Data)
		})
		if err != nil {
			return err
		}
		go func() {
			<-ctx.Done()
			if err := sub.Unsubscribe(); err != nil {
				b.logger.Warn().Err(err).Msg("failed to release validation nats subscription")
			}
		}()
	}
	return nil
}

func (b *validationEventBus) Publish(ctx context.Context, event dto.ValidationEvent) {
	b.deliver(event, "local")

	payload, err := json.Marshal(validationEnvelope{Source: b.nodeID, Event: event, SentAt: time.Now().UTC()})
	if err != nil {
		b.logger.Warn().Err(err).Msg("failed to encode validation event")
		return
	}

	if b.redis != nil && b.redisChannel != "" {
		if err := b.redis.Publish(ctx, b.redisChannel, payload).Err(); err != nil {
			b.logger.Warn().Err(err).Msg("failed to publish validation event to redis")
		}
	}
	if b.nats != nil && b.natsSubject != "" {
		if err := b.nats.Publish(b.natsSubject, payload); err != nil {
			b.logger.Warn().Err(err).Msg("failed to publish validation event to nats")
		}
	}
}

func (b *validationEventBus) Subscribe(submissionID string) (<-chan dto.ValidationEvent, func()) {
	key := strings.TrimSpace(submissionID)
	channel := make(chan dto.ValidationEvent, validationEventBufferSize)

	b.broker.subscribe(key, channel)
	observability.ValidationStreamClients().Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			b.broker.unsubscribe(key, channel)
			observability.ValidationStreamClients().Dec()
		})
	}

	return channel, cleanup
}

func (b *validationEventBus) consumeRedis(ctx context.Context, pubsub *redis.PubSub) {
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
				return
			}
			b.logger.Error().Err(err).Msg("validation redis subscription closed")
			return
		}
		b.handleEnvelope([]byte(msg.Payload))
	}
}

func (b *validationEventBus) handleEnvelope(payload []byte) {
	var envelope validationEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		b.logger.Warn().Err(err).Msg("invalid validation event payload")
		return
	}

	if envelope.Source == b.nodeID {
		return
	}

	b.deliver(envelope.Event, "remote")
}

func (b *validationEventBus) deliver(event dto.ValidationEvent, origin string) {
	observability.ValidationEvents().WithLabelValues(origin).Inc()
	b.broker.broadcast(event.SubmissionID, event)
}

func (b *validationBroker) subscribe(key string, ch chan dto.ValidationEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[key]; !exists {
		b.subscribers[key] = make(map[chan dto.ValidationEvent]struct{})
	}
	b.subscribers[key][ch] = struct{}{}
}

func (b *validationBroker) unsubscribe(key string, ch chan dto.ValidationEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[key]; ok {
		if _, present := subscribers[ch]; !present {
			return
		}
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, key)
		}
	}
}

func (b *validationBroker) broadcast(submissionID string, event dto.ValidationEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, key := range []string{submissionID, allSubmissions} {
		for ch := range b.subscribers[key] {
			select {
			case ch <- event:
			default:
			}
		}
	}
}
