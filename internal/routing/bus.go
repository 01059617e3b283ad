package routing

import (
	"context"
	"errors"
)

// Message is one delivery from the bus.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes one message. A nil error acks it; a Permanent error acks
// it without redelivery; any other error asks the bus to redeliver.
type Handler func(ctx context.Context, msg Message) error

// Bus is the message substrate behind ingestion and routed delivery.
type Bus interface {
	Publish(ctx context.Context, topic string, data []byte, attributes map[string]string) error
	// ConsumeShared delivers each message of topic to one member of the
	// named group fleet-wide. It blocks until ctx ends.
	ConsumeShared(ctx context.Context, topic, group string, handler Handler) error
	// ConsumeExclusive delivers every message of topic to this instance,
	// independent of every other subscriber. It blocks until ctx ends.
	ConsumeExclusive(ctx context.Context, topic string, handler Handler) error
	Ping(ctx context.Context) error
	Close() error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth redelivering.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
