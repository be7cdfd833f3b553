package engine

import "sync"

// AbortController is a cooperatively-signalled cancellation token shared by
// the runner, the stage executor, and the runtime adapter. Abort is
// idempotent.
type AbortController struct {
	once sync.Once
	done chan struct{}
}

// NewAbortController creates an unsignalled controller.
func NewAbortController() *AbortController {
	return &AbortController{done: make(chan struct{})}
}

// Abort signals cancellation. Safe to call more than once.
func (a *AbortController) Abort() {
	a.once.Do(func() { close(a.done) })
}

// Aborted reports whether cancellation has been signalled.
func (a *AbortController) Aborted() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed on abort, for select-based waits.
func (a *AbortController) Done() <-chan struct{} {
	return a.done
}
