package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Job 表示一个可执行的异步任务。
type Job func(ctx context.Context) error

// keyedJob 带互斥 key 的内部任务包装。
type keyedJob struct {
	key string
	fn  Job
}

// Queue 提供按 key 互斥的内存任务队列与固定 worker 池。
//
// 同一个 key（监控 ID）同一时刻最多只有一个任务在排队或执行；
// 重复投递会被跳过而不是排队，因为下一轮调度会再次覆盖它。
// 不同 key 的任务由 worker 池并发执行。
type Queue struct {
	logger  *slog.Logger
	workers int
	jobs    chan keyedJob

	// inflight 记录已入队但尚未执行完的 key
	mu       sync.Mutex
	inflight map[string]struct{}

	// 优雅关闭
	wg     sync.WaitGroup
	closed atomic.Bool

	stats queueStats
}

// queueStats 队列内部统计信息（使用 atomic 类型）。
type queueStats struct {
	TotalEnqueued  atomic.Int64 // 总入队任务数
	TotalSkipped   atomic.Int64 // 因 key 冲突被跳过的任务数
	TotalProcessed atomic.Int64 // 总处理完成数
	TotalSucceeded atomic.Int64 // 成功任务数
	TotalFailed    atomic.Int64 // 失败任务数
	TotalPanics    atomic.Int64 // Panic 次数
}

// Stats 队列统计信息快照（普通值类型，可安全拷贝）。
type Stats struct {
	TotalEnqueued  int64
	TotalSkipped   int64
	TotalProcessed int64
	TotalSucceeded int64
	TotalFailed    int64
	TotalPanics    int64
}

// NewQueue 创建一个新的按 key 互斥的任务队列。
//
// 参数:
//   - logger: 日志记录器
//   - workers: worker 数量（至少为 1）
//   - capacity: 队列容量（至少为 1）
func NewQueue(logger *slog.Logger, workers int, capacity int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		logger:   logger,
		workers:  workers,
		jobs:     make(chan keyedJob, capacity),
		inflight: make(map[string]struct{}),
	}
}

// Start 启动 worker 池，直到 ctx 被取消或调用 Shutdown。
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			q.logger.Debug("worker stopped", slog.Int("worker_id", id))
			return

		case job, ok := <-q.jobs:
			if !ok {
				q.logger.Debug("worker exit on closed channel", slog.Int("worker_id", id))
				return
			}
			q.execute(ctx, job, id)
		}
	}
}

// execute 执行单个任务，带 panic 恢复；执行结束后释放 key。
func (q *Queue) execute(ctx context.Context, job keyedJob, workerID int) {
	defer q.release(job.key)
	defer func() {
		if r := recover(); r != nil {
			q.stats.TotalPanics.Add(1)
			q.logger.Error("job panic recovered",
				slog.Int("worker_id", workerID),
				slog.String("key", job.key),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	err := job.fn(ctx)
	q.stats.TotalProcessed.Add(1)

	if err != nil {
		q.stats.TotalFailed.Add(1)
		q.logger.Warn("job failed",
			slog.Int("worker_id", workerID),
			slog.String("key", job.key),
			slog.String("error", err.Error()))
	} else {
		q.stats.TotalSucceeded.Add(1)
	}
}

// Enqueue 将任务放入队列。
//
// 返回 false 的两种情况：key 已有任务在队列或执行中（跳过），
// 或队列已满/已关闭（丢弃）。两种情况对调度器都是安全的：
// 下一个调度周期会重新投递。
func (q *Queue) Enqueue(key string, job Job) bool {
	if job == nil || key == "" {
		return false
	}
	if q.closed.Load() {
		q.logger.Warn("queue is closed, reject job", slog.String("key", key))
		return false
	}

	if !q.acquire(key) {
		q.stats.TotalSkipped.Add(1)
		q.logger.Debug("job skipped, key already in flight", slog.String("key", key))
		return false
	}

	select {
	case q.jobs <- keyedJob{key: key, fn: job}:
		q.stats.TotalEnqueued.Add(1)
		return true
	default:
		q.release(key)
		q.logger.Warn("queue full, drop job",
			slog.String("key", key),
			slog.Int("capacity", cap(q.jobs)),
			slog.Int("pending", len(q.jobs)))
		return false
	}
}

// EnqueueWait 阻塞式入队，直到成功、key 冲突或 ctx 被取消。
//
// key 冲突不阻塞而是返回 (false, nil)：同一监控的重复检查没有
// 等待的意义，调用方据此区分"已入队"和"已有在途任务"。
func (q *Queue) EnqueueWait(ctx context.Context, key string, job Job) (bool, error) {
	if job == nil || key == "" {
		return false, fmt.Errorf("job or key is empty")
	}
	if q.closed.Load() {
		return false, fmt.Errorf("queue is closed")
	}
	if !q.acquire(key) {
		q.stats.TotalSkipped.Add(1)
		return false, nil
	}

	select {
	case q.jobs <- keyedJob{key: key, fn: job}:
		q.stats.TotalEnqueued.Add(1)
		return true, nil
	case <-ctx.Done():
		q.release(key)
		return false, ctx.Err()
	}
}

func (q *Queue) acquire(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, busy := q.inflight[key]; busy {
		return false
	}
	q.inflight[key] = struct{}{}
	return true
}

func (q *Queue) release(key string) {
	q.mu.Lock()
	delete(q.inflight, key)
	q.mu.Unlock()
}

// InFlight 返回 key 是否有任务在排队或执行中。
func (q *Queue) InFlight(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, busy := q.inflight[key]
	return busy
}

// ShutdownWithTimeout 优雅关闭队列：
//  1. 标记为已关闭（拒绝新任务）
//  2. 关闭任务通道
//  3. 等待所有 worker 完成当前任务，超时则报错
func (q *Queue) ShutdownWithTimeout(timeout time.Duration) error {
	if !q.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("queue already closed")
	}

	close(q.jobs)
	q.logger.Info("queue shutdown initiated",
		slog.String("timeout", timeout.String()))

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("queue shutdown completed")
		return nil
	case <-time.After(timeout):
		q.logger.Error("queue shutdown timeout")
		return fmt.Errorf("shutdown timeout after %s", timeout)
	}
}

// Snapshot 获取队列统计信息的快照。
func (q *Queue) Snapshot() Stats {
	return Stats{
		TotalEnqueued:  q.stats.TotalEnqueued.Load(),
		TotalSkipped:   q.stats.TotalSkipped.Load(),
		TotalProcessed: q.stats.TotalProcessed.Load(),
		TotalSucceeded: q.stats.TotalSucceeded.Load(),
		TotalFailed:    q.stats.TotalFailed.Load(),
		TotalPanics:    q.stats.TotalPanics.Load(),
	}
}

// Len 返回当前队列中待处理的任务数量。
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Cap 返回队列的容量。
func (q *Queue) Cap() int {
	return cap(q.jobs)
}
