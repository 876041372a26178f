package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestSafeGoRecoversPanic(t *testing.T) {
	entered := make(chan struct{})
	SafeGo(arbor.NewLogger(), "boom", func() {
		close(entered)
		panic("job blew up")
	})

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("goroutine never ran")
	}
	// an unrecovered panic would kill the test binary here
	time.Sleep(50 * time.Millisecond)
}

func TestSafeGoRunsFunction(t *testing.T) {
	done := make(chan struct{})
	SafeGo(arbor.NewLogger(), "work", func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "goroutine never completed")
	}
}
