package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sf1r-go/coordinator/internal/writepipeline"
)

// runWriteLoop drives this node's half of the write pipeline:
// topology.Watcher.Refresh is caller-driven, so rather than arming a
// watch on the marker znode this polls for one on a fixed interval,
// same as the master's own dispatch loop.
func runWriteLoop(ctx context.Context, pipeline *writepipeline.Pipeline, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			processPendingWrite(ctx, pipeline)
		}
	}
}

func processPendingWrite(ctx context.Context, pipeline *writepipeline.Pipeline) {
	if _, err := pipeline.PrepareWrite(ctx, true); err != nil {
		if !errors.Is(err, writepipeline.ErrNoPendingWrite) {
			log.Printf("write loop: prepare: %v", err)
		}
		return
	}

	if _, err := pipeline.AppendPrepared(); err != nil {
		log.Printf("write loop: append: %v", err)
		if err := pipeline.AbortWrite(ctx); err != nil {
			log.Printf("write loop: abort after append failure: %v", err)
		}
		return
	}

	if err := pipeline.EndWrite(ctx); err != nil {
		log.Printf("write loop: end write: %v", err)
	}
}
