package component

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/nightshard/shardnode/module"
	"github.com/nightshard/shardnode/module/irrecoverable"
)

// ErrMultipleStartup is the panic value when a component is started twice.
var ErrMultipleStartup = fmt.Errorf("component may only be started once")

// Component can be started once and signals readiness and shutdown through channels.
type Component interface {
	module.Startable
	module.ReadyDoneAware
}

// ReadyFunc is called by a worker once it is ready to process work.
type ReadyFunc func()

// ComponentWorker is a long-running routine of a component. Irrecoverable
// errors are thrown on ctx; the worker returns when ctx is cancelled.
type ComponentWorker func(ctx irrecoverable.SignalerContext, ready ReadyFunc)

// ComponentManagerBuilder collects workers for a ComponentManager.
type ComponentManagerBuilder interface {
	AddWorker(ComponentWorker) ComponentManagerBuilder
	Build() *ComponentManager
}

type builder struct {
	workers []ComponentWorker
}

// NewComponentManagerBuilder returns an empty builder.
func NewComponentManagerBuilder() ComponentManagerBuilder {
	return &builder{}
}

// AddWorker registers a worker. Not concurrency safe.
func (b *builder) AddWorker(worker ComponentWorker) ComponentManagerBuilder {
	b.workers = append(b.workers, worker)
	return b
}

// Build returns a manager running all registered workers.
func (b *builder) Build() *ComponentManager {
	return &ComponentManager{
		started:        atomic.NewBool(false),
		ready:          make(chan struct{}),
		done:           make(chan struct{}),
		workersDone:    make(chan struct{}),
		shutdownSignal: make(chan struct{}),
		workers:        b.workers,
	}
}

var _ Component = (*ComponentManager)(nil)

// ComponentManager runs the workers of a component. Ready closes once every
// worker called its ReadyFunc; Done closes once every worker returned. An error
// thrown by any worker cancels all others and is rethrown on the parent context.
type ComponentManager struct {
	started        *atomic.Bool
	ready          chan struct{}
	done           chan struct{}
	workersDone    chan struct{}
	shutdownSignal chan struct{}

	workers []ComponentWorker
}

// Start launches all workers. It panics if called more than once.
func (c *ComponentManager) Start(parent irrecoverable.SignalerContext) {
	if !c.started.CompareAndSwap(false, true) {
		panic(ErrMultipleStartup)
	}

	ctx, cancel := context.WithCancel(parent)
	signalerCtx, errChan := irrecoverable.WithSignaler(ctx)

	go func() {
		<-ctx.Done()
		close(c.shutdownSignal)
	}()

	go func() {
		// done must close only after the error reached the parent
		defer func() {
			<-c.workersDone
			close(c.done)
		}()

		select {
		case err, ok := <-errChan:
			if ok && err != nil {
				cancel()
				parent.Throw(err)
			}
		case <-c.workersDone:
			// an error may have been thrown right before the last worker exited
			select {
			case err, ok := <-errChan:
				if ok && err != nil {
					cancel()
					parent.Throw(err)
				}
			default:
			}
		}
	}()

	var workersReady, workersDone sync.WaitGroup
	workersReady.Add(len(c.workers))
	workersDone.Add(len(c.workers))
	for _, worker := range c.workers {
		worker := worker
		go func() {
			defer workersDone.Done()
			var once sync.Once
			worker(signalerCtx, func() {
				once.Do(workersReady.Done)
			})
		}()
	}

	go func() {
		workersReady.Wait()
		close(c.ready)
	}()
	go func() {
		workersDone.Wait()
		cancel()
		close(c.workersDone)
	}()
}

// Ready closes once all workers are ready.
func (c *ComponentManager) Ready() <-chan struct{} {
	return c.ready
}

// Done closes once all workers have returned.
func (c *ComponentManager) Done() <-chan struct{} {
	return c.done
}

// ShutdownSignal closes when shutdown begins.
func (c *ComponentManager) ShutdownSignal() <-chan struct{} {
	return c.shutdownSignal
}
