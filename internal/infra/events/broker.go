package events

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// MessageWriter lo cumplen *kafka.Writer y MemoryBroker.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageReader lo cumplen *kafka.Reader (con GroupID) y los readers de
// MemoryBroker. FetchMessage no confirma el offset: eso lo hace CommitMessages.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var (
	_ MessageWriter = (*kafka.Writer)(nil)
	_ MessageReader = (*kafka.Reader)(nil)
)
