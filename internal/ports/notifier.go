package ports

import (
	"context"

	"github.com/alejandrodnm/lpbot/internal/domain"
)

// Notifier reports lifecycle transitions. Failures are logged by the caller and
// never change the lifecycle outcome.
type Notifier interface {
	Notify(ctx context.Context, event domain.LifecycleEvent) error
}

// Archiver keeps an immutable copy of closed positions outside the store.
type Archiver interface {
	Archive(ctx context.Context, p domain.Position) error
}
