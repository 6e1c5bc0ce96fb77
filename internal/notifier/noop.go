package notifier

import "context"

// Noop discards all notifications. Used when telegram is disabled.
type Noop struct{}

func (Noop) Notify(context.Context, string) error { return nil }
