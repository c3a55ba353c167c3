package engine

import (
	"context"
	"sync"
	"time"
)

// taskGroup tracks work that must outlive the response it was started for.
// Tasks get a context detached from the request's cancellation but bounded
// by timeout.
type taskGroup struct {
	wg      sync.WaitGroup
	timeout time.Duration
}

func (g *taskGroup) Go(parent context.Context, fn func(ctx context.Context)) {
	g.wg.Add(1)
	detachedTasksInFlight.Inc()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), g.timeout)
	go func() {
		defer g.wg.Done()
		defer detachedTasksInFlight.Dec()
		defer cancel()
		fn(ctx)
	}()
}

func (g *taskGroup) Wait() {
	g.wg.Wait()
}

// WaitContext waits for all tasks or until ctx is done.
func (g *taskGroup) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
