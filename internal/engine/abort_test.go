package engine

import "testing"

func TestAbortControllerIdempotent(t *testing.T) {
	a := NewAbortController()
	if a.Aborted() {
		t.Fatal("fresh controller must not be aborted")
	}

	a.Abort()
	a.Abort() // second call must not panic
	if !a.Aborted() {
		t.Fatal("controller must report aborted after Abort")
	}

	select {
	case <-a.Done():
	default:
		t.Fatal("Done channel must be closed after Abort")
	}
}
