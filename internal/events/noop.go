package events

import "context"

// Noop discards events. It is used when no NATS URL is configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, any) error { return nil }

func (Noop) Close() error { return nil }
