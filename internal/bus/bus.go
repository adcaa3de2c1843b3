package bus

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/watchtower/internal/domain"
)

// MetadataOrigin names the replica that published a message.
const MetadataOrigin = "origin"

var origin = hostname()

// New returns the in-process bus for "channel" and a NATS-backed bus for "nats".
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

func newMessage(topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  map[string]string{MetadataOrigin: origin},
		Timestamp: time.Now().UnixNano(),
	}
}

func hostname() string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return "watchtower"
}
