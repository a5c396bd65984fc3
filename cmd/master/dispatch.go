package main

import (
	"context"
	"log"
	"time"

	"github.com/sf1r-go/coordinator/internal/coordination"
	"github.com/sf1r-go/coordinator/internal/master"
	"github.com/sf1r-go/coordinator/internal/topology"
	"github.com/sf1r-go/coordinator/internal/writepipeline"
	"github.com/sf1r-go/coordinator/internal/zkns"
)

// dispatcher is the single goroutine that owns every coordination
// side-effect for this service: topology.Watcher.Refresh is
// caller-driven rather than self-watching, so nothing else may call it
// concurrently with this loop.
type dispatcher struct {
	client   coordination.Client
	watcher  *topology.Watcher
	master   *master.Master
	pipeline *writepipeline.Pipeline
	ns       *zkns.Namespace
	svc      zkns.Service
}

// run drains session events as they arrive and re-evaluates topology
// and the write queue on a fixed poll interval, since Watcher.Refresh
// has no event-driven counterpart to arm a watch against.
func (d *dispatcher) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	events := d.client.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				continue
			}
			if err := d.master.HandleSessionEvent(ctx, ev); err != nil {
				log.Printf("dispatch: session event %v: %v", ev.Type, err)
			}
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *dispatcher) tick(ctx context.Context) {
	if err := d.watcher.Refresh(ctx); err != nil {
		log.Printf("dispatch: topology refresh: %v", err)
		return
	}
	if err := d.master.HandleTopologyChange(ctx); err != nil {
		log.Printf("dispatch: topology change: %v", err)
	}
	if err := d.pipeline.OnQueueChanged(ctx); err != nil {
		log.Printf("dispatch: queue changed: %v", err)
		return
	}
	if _, err := d.pipeline.TryCommit(ctx); err != nil {
		log.Printf("dispatch: try commit: %v", err)
	}
}
