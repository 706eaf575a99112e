package utils

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"
)

// StoppableWorkers runs background goroutines that share one cancelable context. Stop cancels
// the context and joins every goroutine.
type StoppableWorkers struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStoppableWorkers starts one goroutine per function.
func NewStoppableWorkers(funcs ...func(context.Context)) *StoppableWorkers {
	ctx, cancel := context.WithCancel(context.Background())
	sw := &StoppableWorkers{ctx: ctx, cancel: cancel}
	sw.Add(funcs...)
	return sw
}

// Add starts more goroutines. After Stop it starts nothing.
func (sw *StoppableWorkers) Add(funcs ...func(context.Context)) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.ctx.Err() != nil {
		return
	}
	sw.wg.Add(len(funcs))
	for _, f := range funcs {
		goutils.PanicCapturingGo(func() {
			defer sw.wg.Done()
			f(sw.ctx)
		})
	}
}

// Stop cancels the workers' context and waits for all of them to return.
func (sw *StoppableWorkers) Stop() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.cancel()
	sw.wg.Wait()
}

// Context is the context the workers watch.
func (sw *StoppableWorkers) Context() context.Context {
	return sw.ctx
}
