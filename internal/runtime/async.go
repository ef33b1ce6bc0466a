package runtime

import (
	"context"
	"errors"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/aretw0/arbor/pkg/domain"
)

var (
	sharedPoolOnce sync.Once
	sharedPool     pond.Pool
)

// defaultPool is used when no pool was configured. It is created on first use.
func defaultPool() pond.Pool {
	sharedPoolOnce.Do(func() {
		sharedPool = pond.NewPool(4)
	})
	return sharedPool
}

type asyncInit struct {
	cancel context.CancelFunc
	task   pond.Task
	err    error
}

func (in *Instance) asyncPending() bool {
	in.asyncMu.Lock()
	defer in.asyncMu.Unlock()
	return in.async != nil
}

// InitializeAsync builds the arena on a worker. Node initialization of behaviors that
// are not init-thread-safe, the status change and onComplete run in a finish phase
// posted through the configured Dispatcher, or on the worker when there is none.
// A canceled or failed initialization leaves the instance uninitialized.
func (in *Instance) InitializeAsync(ctx context.Context, hostCtx any, onComplete func()) error {
	if in.IsInitialized() {
		return domain.ErrAlreadyInitialized
	}
	in.asyncMu.Lock()
	if in.async != nil {
		in.asyncMu.Unlock()
		return domain.ErrAsyncInitInProgress
	}
	ctx, cancel := context.WithCancel(ctx)
	job := &asyncInit{cancel: cancel}
	in.async = job
	in.asyncMu.Unlock()

	in.hostCtx = hostCtx
	if in.hooks.OnPreInitialize != nil {
		in.hooks.OnPreInitialize(ctx)
	}

	pool := in.pool
	if pool == nil {
		pool = defaultPool()
	}
	task := pool.Submit(func() {
		deferred, err := in.construct(ctx, true)
		if err == nil && ctx.Err() != nil {
			err = domain.ErrInitCanceled
		}
		if err != nil {
			job.err = err
			in.abandonAsync(job)
			if !errors.Is(err, domain.ErrInitCanceled) {
				in.logger.Error("async initialize failed", "graph", in.graph.Name(), "err", err)
			}
			return
		}

		finish := func() { in.finishAsync(ctx, job, deferred, onComplete) }
		if in.dispatcher != nil {
			in.dispatcher.Post(finish)
			return
		}
		finish()
	})
	in.asyncMu.Lock()
	job.task = task
	in.asyncMu.Unlock()
	return nil
}

func (in *Instance) abandonAsync(job *asyncInit) {
	in.asyncMu.Lock()
	defer in.asyncMu.Unlock()
	if in.async == job {
		in.async = nil
		in.a, in.index = nil, nil
	}
}

func (in *Instance) finishAsync(ctx context.Context, job *asyncInit, deferred []func(), onComplete func()) {
	in.asyncMu.Lock()
	if in.async != job || ctx.Err() != nil {
		in.asyncMu.Unlock()
		return
	}
	for _, fn := range deferred {
		fn()
	}
	in.setStatus(domain.StatusInitialized)
	in.async = nil
	in.asyncMu.Unlock()
	job.cancel()

	in.logger.Debug("async initialize finished", "graph", in.graph.Name())
	if in.hooks.OnPostInitialize != nil {
		in.hooks.OnPostInitialize(ctx)
	}
	if onComplete != nil {
		onComplete()
	}
}

// CancelAsyncInitialization cancels a pending InitializeAsync and waits for its worker.
// It is a no-op when nothing is pending.
func (in *Instance) CancelAsyncInitialization() {
	in.asyncMu.Lock()
	job := in.async
	in.async = nil
	var task pond.Task
	if job != nil {
		task = job.task
	}
	in.asyncMu.Unlock()
	if job == nil {
		return
	}
	job.cancel()
	if task != nil {
		_ = task.Wait()
	}
	if !in.IsInitialized() {
		in.a, in.index = nil, nil
	}
}

// WaitForAsyncInitializationTask blocks until the worker of a pending InitializeAsync
// has returned. With a dispatcher the finish phase may still be queued afterwards.
func (in *Instance) WaitForAsyncInitializationTask() error {
	in.asyncMu.Lock()
	job := in.async
	var task pond.Task
	if job != nil {
		task = job.task
	}
	in.asyncMu.Unlock()
	if task == nil {
		return nil
	}
	_ = task.Wait()
	return job.err
}
