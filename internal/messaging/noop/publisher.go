// Package noop provides stand-ins for the optional consumer collaborators.
package noop

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// Publisher is a no-op DeadLetterPublisher used when no dead-letter topic is configured.
type Publisher struct{}

func (Publisher) PublishDeadLetter(_ context.Context, _ kafka.Message, _ error) error { return nil }

// Guard is a no-op deduplicator used when Redis is not configured. Nothing
// is ever seen; the store's unique order id still prevents duplicates.
type Guard struct{}

func (Guard) Seen(_ context.Context, _ int64) (bool, error) { return false, nil }

func (Guard) Mark(_ context.Context, _ int64) error { return nil }
