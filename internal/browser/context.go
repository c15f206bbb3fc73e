// internal/browser/context.go
package browser

import "context"

// CombineContext creates a context that is canceled when either parent is
// canceled. Operations must respect both the session lifetime and the
// caller's per-call deadline; this is how every suspension point stays
// interruptible.
func CombineContext(parentCtx, secondaryCtx context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(parentCtx)

	go func() {
		select {
		case <-secondaryCtx.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}
