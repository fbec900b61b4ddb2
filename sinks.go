package heapview

import (
	"context"
	"io"
	"log/slog"

	"github.com/hazyhaar/heapview/event"
	"github.com/hazyhaar/heapview/internal/sink"
)

// Sink is the output interface for session events.
type Sink = sink.Sink

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process sink that hands every event to fn.
func NewCallbackSink(fn func(ctx context.Context, ev event.Event) error) Sink {
	return sink.NewCallback(fn)
}

// sinksFromConfig builds the configured sinks. Validation already
// rejected unknown types.
func sinksFromConfig(cfgs []SinkConfig, logger *slog.Logger) []Sink {
	var out []Sink
	for _, sc := range cfgs {
		switch sc.Type {
		case "webhook":
			out = append(out, sink.NewWebhook(sc.URL,
				sink.WithWebhookRetries(sc.Retries),
				sink.WithWebhookBackoff(sc.Backoff),
				sink.WithWebhookLogger(logger)))
		case "stdout":
			out = append(out, sink.NewStdout(nil))
		default:
			logger.Warn("heapview: unknown sink type", "type", sc.Type)
		}
	}
	return out
}
