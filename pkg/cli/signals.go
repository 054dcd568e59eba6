package cli

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// SignalContext returns a context that is canceled on the first SIGINT or
// SIGTERM. A second signal exits the process immediately. stop releases
// the signal handlers.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signalContext(parent, func() { os.Exit(130) }, os.Interrupt, syscall.SIGTERM)
}

func signalContext(parent context.Context, force func(), sigs ...os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, sigs...)

	done := make(chan struct{})
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-done:
			return
		}
		select {
		case <-sigChan:
			force()
		case <-done:
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			signal.Stop(sigChan)
			close(done)
			cancel()
		})
	}
}
