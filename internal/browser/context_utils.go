// internal/browser/context_utils.go
package browser

import (
	"context"
)

// CombineContext returns a context derived from sessionCtx, which carries the
// CDP target, that is also canceled when opCtx is done. Values come from
// sessionCtx only; opCtx contributes its cancellation and deadline.
func CombineContext(sessionCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(sessionCtx)
	if deadline, ok := opCtx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		combined, cancelDeadline = context.WithDeadline(combined, deadline)
		parentCancel := cancel
		cancel = func() {
			cancelDeadline()
			parentCancel()
		}
	}

	stop := context.AfterFunc(opCtx, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
