package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestQueue_BasicFunctionality(t *testing.T) {
	q := NewQueue(testLogger(), 3, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)

	var completed atomic.Int32
	for i := 0; i < 5; i++ {
		idx := i
		job := func(ctx context.Context) error {
			t.Logf("Processing job %d", idx)
			time.Sleep(50 * time.Millisecond)
			completed.Add(1)
			return nil
		}
		if !q.Enqueue(fmt.Sprintf("watch:%d", idx), job) {
			t.Errorf("Failed to enqueue job %d", idx)
		}
	}

	// 等待任务完成
	time.Sleep(500 * time.Millisecond)
	if err := q.ShutdownWithTimeout(2 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if completed.Load() != 5 {
		t.Errorf("Expected 5 completed jobs, got %d", completed.Load())
	}

	stats := q.Snapshot()
	if stats.TotalEnqueued != 5 {
		t.Errorf("Expected 5 enqueued, got %d", stats.TotalEnqueued)
	}
	if stats.TotalSucceeded != 5 {
		t.Errorf("Expected 5 succeeded, got %d", stats.TotalSucceeded)
	}
}

func TestQueue_KeyMutualExclusion(t *testing.T) {
	q := NewQueue(testLogger(), 4, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)

	started := make(chan struct{})
	release := make(chan struct{})

	ok := q.Enqueue("watch:1", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	if !ok {
		t.Fatal("first enqueue should succeed")
	}

	<-started

	// 同一个 key 的第二次投递必须被跳过
	if q.Enqueue("watch:1", func(ctx context.Context) error { return nil }) {
		t.Error("duplicate key should be skipped while in flight")
	}
	if !q.InFlight("watch:1") {
		t.Error("key should be in flight")
	}

	// 其他 key 不受影响
	var other atomic.Int32
	if !q.Enqueue("watch:2", func(ctx context.Context) error {
		other.Add(1)
		return nil
	}) {
		t.Error("different key should be accepted")
	}

	close(release)
	time.Sleep(200 * time.Millisecond)

	if q.InFlight("watch:1") {
		t.Error("key should be released after completion")
	}
	if other.Load() != 1 {
		t.Errorf("Expected other job to run, got %d", other.Load())
	}

	// 执行完后同一个 key 可以再次入队
	if !q.Enqueue("watch:1", func(ctx context.Context) error { return nil }) {
		t.Error("key should be reusable after release")
	}

	time.Sleep(100 * time.Millisecond)
	stats := q.Snapshot()
	if stats.TotalSkipped != 1 {
		t.Errorf("Expected 1 skipped, got %d", stats.TotalSkipped)
	}

	if err := q.ShutdownWithTimeout(2 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestQueue_ErrorCounting(t *testing.T) {
	q := NewQueue(testLogger(), 2, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)

	q.Enqueue("ok", func(ctx context.Context) error {
		return nil
	})
	q.Enqueue("bad", func(ctx context.Context) error {
		return errors.New("task failed")
	})

	time.Sleep(300 * time.Millisecond)
	if err := q.ShutdownWithTimeout(2 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	stats := q.Snapshot()
	if stats.TotalSucceeded != 1 {
		t.Errorf("Expected 1 succeeded, got %d", stats.TotalSucceeded)
	}
	if stats.TotalFailed != 1 {
		t.Errorf("Expected 1 failed, got %d", stats.TotalFailed)
	}
}

func TestQueue_PanicRecovery(t *testing.T) {
	q := NewQueue(testLogger(), 1, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)

	q.Enqueue("panic", func(ctx context.Context) error {
		panic("boom")
	})

	var after atomic.Int32
	q.Enqueue("after", func(ctx context.Context) error {
		after.Add(1)
		return nil
	})

	time.Sleep(300 * time.Millisecond)
	if err := q.ShutdownWithTimeout(2 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	stats := q.Snapshot()
	if stats.TotalPanics != 1 {
		t.Errorf("Expected 1 panic, got %d", stats.TotalPanics)
	}
	// panic 后 key 必须被释放，worker 继续工作
	if q.InFlight("panic") {
		t.Error("panicked key should be released")
	}
	if after.Load() != 1 {
		t.Error("worker should survive panic and run next job")
	}
}

func TestQueue_QueueFull(t *testing.T) {
	q := NewQueue(testLogger(), 1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)

	block := make(chan struct{})
	q.Enqueue("slow", func(ctx context.Context) error {
		<-block
		return nil
	})
	time.Sleep(50 * time.Millisecond)

	// 占满队列
	q.Enqueue("fill", func(ctx context.Context) error { return nil })

	// 队列已满，丢弃并释放 key
	if q.Enqueue("dropped", func(ctx context.Context) error { return nil }) {
		t.Error("enqueue should fail when queue is full")
	}
	if q.InFlight("dropped") {
		t.Error("dropped key should not stay in flight")
	}

	close(block)
	if err := q.ShutdownWithTimeout(2 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestQueue_RejectAfterShutdown(t *testing.T) {
	q := NewQueue(testLogger(), 1, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)
	if err := q.ShutdownWithTimeout(2 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if q.Enqueue("late", func(ctx context.Context) error { return nil }) {
		t.Error("enqueue after shutdown should fail")
	}
	if _, err := q.EnqueueWait(ctx, "late", func(ctx context.Context) error { return nil }); err == nil {
		t.Error("EnqueueWait after shutdown should fail")
	}
}
