// Package sink defines output backends for heapview session events.
package sink

import (
	"context"

	"github.com/hazyhaar/heapview/event"
)

// Sink delivers events to a backend (stdout, webhook, in-process callback).
type Sink interface {
	Send(ctx context.Context, ev event.Event) error
	Close() error
}
