package utils

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.viam.com/test"

	"go.viam.com/articulated/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestWorkerPoolRunsJobs(t *testing.T) {
	logger := logging.NewTestLogger(t)
	pool, err := NewWorkerPool(3, logger)
	test.That(t, err, test.ShouldBeNil)
	defer pool.Close()
	test.That(t, pool.Size(), test.ShouldEqual, 3)

	var count atomic.Int32
	var mu sync.Mutex
	perWorker := map[int]int{}
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		w, err := pool.Acquire(ctx)
		test.That(t, err, test.ShouldBeNil)
		id := w.ID()
		w.Execute(func(context.Context) error {
			count.Add(1)
			mu.Lock()
			perWorker[id]++
			mu.Unlock()
			return nil
		})
	}
	test.That(t, pool.WaitAll(ctx), test.ShouldBeNil)
	test.That(t, count.Load(), test.ShouldEqual, int32(20))
	total := 0
	for id, n := range perWorker {
		test.That(t, id, test.ShouldBeBetweenOrEqual, 0, 2)
		total += n
	}
	test.That(t, total, test.ShouldEqual, 20)
}

func TestWorkerPoolBarrierCollectsErrors(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	pool, err := NewWorkerPool(2, logger)
	test.That(t, err, test.ShouldBeNil)
	defer pool.Close()

	ctx := context.Background()
	test.That(t, pool.Go(ctx, func(context.Context) error { return errors.New("no convergence") }), test.ShouldBeNil)
	test.That(t, pool.Go(ctx, func(context.Context) error { panic("boom") }), test.ShouldBeNil)
	test.That(t, pool.Go(ctx, func(context.Context) error { return nil }), test.ShouldBeNil)

	err = pool.WaitAll(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, strings.Contains(err.Error(), "no convergence"), test.ShouldBeTrue)
	test.That(t, strings.Contains(err.Error(), "panicked: boom"), test.ShouldBeTrue)
	test.That(t, logs.FilterMessage("recovered panic in worker").Len(), test.ShouldEqual, 1)

	// errors are cleared by the barrier and the pool survives the panic
	test.That(t, pool.Go(ctx, func(context.Context) error { return nil }), test.ShouldBeNil)
	test.That(t, pool.WaitAll(ctx), test.ShouldBeNil)
}

func TestWorkerPoolAcquireTimeout(t *testing.T) {
	logger := logging.NewTestLogger(t)
	pool, err := NewWorkerPool(1, logger)
	test.That(t, err, test.ShouldBeNil)
	defer pool.Close()

	release := make(chan struct{})
	test.That(t, pool.Go(context.Background(), func(context.Context) error {
		<-release
		return nil
	}), test.ShouldBeNil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	test.That(t, err, test.ShouldEqual, context.DeadlineExceeded)

	close(release)
	test.That(t, pool.WaitAll(context.Background()), test.ShouldBeNil)
}

func TestWorkerPoolClose(t *testing.T) {
	logger := logging.NewTestLogger(t)
	pool, err := NewWorkerPool(4, logger)
	test.That(t, err, test.ShouldBeNil)

	// reserve a worker without giving it work; Close must still return
	_, err = pool.Acquire(context.Background())
	test.That(t, err, test.ShouldBeNil)
	pool.Close()

	_, err = pool.Acquire(context.Background())
	test.That(t, err, test.ShouldEqual, ErrPoolClosed)

	_, err = NewWorkerPool(0, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestGetenvInt(t *testing.T) {
	logger := logging.NewTestLogger(t)
	t.Setenv(NumWorkersEnvVar, "3")
	test.That(t, DefaultNumWorkers(logger), test.ShouldEqual, 3)
	t.Setenv(NumWorkersEnvVar, "many")
	test.That(t, GetenvInt(NumWorkersEnvVar, 5, logger), test.ShouldEqual, 5)
	t.Setenv(NumWorkersEnvVar, "")
	test.That(t, GetenvInt(NumWorkersEnvVar, 7, logger), test.ShouldEqual, 7)
}
