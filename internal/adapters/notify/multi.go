package notify

import (
	"context"
	"errors"

	"github.com/alejandrodnm/lpbot/internal/domain"
	"github.com/alejandrodnm/lpbot/internal/ports"
)

// Multi reparte cada evento entre varios notificadores. Un fallo no impide
// que el resto reciba el evento; los errores se devuelven unidos.
type Multi []ports.Notifier

func (m Multi) Notify(ctx context.Context, ev domain.LifecycleEvent) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
