package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/feedmeta/harvester/internal/ingest"
)

func TestMetricsServerFailureKeepsRunnersGoing(t *testing.T) {
	// occupy the metrics port
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	parent, cancel := context.WithCancel(context.Background())
	defer cancel()
	group, ctx := errgroup.WithContext(parent)

	ticks := make(chan struct{}, 1)
	runner := ingest.NewRunner("sizes", time.Millisecond, func(ctx context.Context) error {
		select {
		case ticks <- struct{}{}:
		default:
		}
		return nil
	}, nil)
	group.Go(func() error { return runner.Run(ctx) })

	core, logs := observer.New(zap.InfoLevel)
	srv := &http.Server{Addr: ln.Addr().String(), Handler: http.NotFoundHandler()}
	served := make(chan struct{})
	group.Go(func() error {
		defer close(served)
		serveMetrics(ctx, srv, zap.New(core))
		return nil
	})

	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("metrics server did not give up on a busy port")
	}
	if logs.FilterMessage("Metrics server failed").Len() != 1 {
		t.Errorf("expected the bind failure to be logged, got %v", logs.All())
	}
	if err := ctx.Err(); err != nil {
		t.Fatalf("group context cancelled: %v", err)
	}

	// the runner keeps ticking after the failure
	<-ticks
	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("runner stopped after the metrics server failed")
	}

	cancel()
	if err := group.Wait(); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() = %v, want context.Canceled", err)
	}
}

func TestServeMetricsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	done := make(chan struct{})
	go func() {
		serveMetrics(ctx, srv, zap.NewNop())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serveMetrics did not return after cancel")
	}
}
