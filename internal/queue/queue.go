// Package queue carries pipeline messages between the registry, the OCR
// worker and the completion consumer, over Pub/Sub or in process.
package queue

import (
	"context"
	"errors"
)

// Handler processes one message payload. Handlers report failures through
// logging; every delivered message is considered consumed.
type Handler func(ctx context.Context, payload []byte)

// Message attributes set on every published message.
const (
	AttrExchange   = "exchange"
	AttrRoutingKey = "routingKey"
)

// ErrClosed is returned when publishing on a closed transport.
var ErrClosed = errors.New("queue: transport closed")
