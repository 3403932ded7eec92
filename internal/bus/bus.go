package bus

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/carsim/internal/domain"
)

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// Metadata keys propagated with every message.
const (
	MetaRequestID = "request_id"
	MetaLocale    = "locale"
)

type metadataKey struct{}

// WithMetadata returns a context whose published messages carry key=value.
func WithMetadata(ctx context.Context, key, value string) context.Context {
	md := maps.Clone(metadataFrom(ctx))
	if md == nil {
		md = make(map[string]string, 1)
	}
	md[key] = value
	return context.WithValue(ctx, metadataKey{}, md)
}

func metadataFrom(ctx context.Context) map[string]string {
	md, _ := ctx.Value(metadataKey{}).(map[string]string)
	return md
}

// newMessage builds the envelope shared by both bus implementations.
func newMessage(ctx context.Context, topic string, payload []byte) *domain.Message {
	md := maps.Clone(metadataFrom(ctx))
	if md == nil {
		md = make(map[string]string)
	}
	return &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  md,
		Timestamp: time.Now().UnixNano(),
	}
}
