package cli

import (
	"context"
	"syscall"
	"testing"
	"time"
)

func TestSignalContext_NotCancelledInitially(t *testing.T) {
	ctx, stop := SignalContext(context.Background())
	defer stop()

	select {
	case <-ctx.Done():
		t.Error("context should not be cancelled initially")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestSignalContext_Signal(t *testing.T) {
	forced := make(chan struct{}, 1)
	ctx, stop := signalContext(context.Background(), func() { forced <- struct{}{} }, syscall.SIGUSR1)
	defer stop()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled by the first signal")
	}

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case <-forced:
	case <-time.After(2 * time.Second):
		t.Fatal("second signal did not force exit")
	}
}

func TestSignalContext_Stop(t *testing.T) {
	ctx, stop := SignalContext(context.Background())
	stop()
	stop()

	select {
	case <-ctx.Done():
	default:
		t.Error("stop should cancel the context")
	}
}

func TestSignalContext_Parent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := SignalContext(parent)
	defer stop()

	cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("parent cancellation not propagated")
	}
}
