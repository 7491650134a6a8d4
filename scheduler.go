// Scheduler implementations for rxpipe
// 调度器系统：Worker是串行执行通道，调度器负责分配Worker和管理生命周期
package rxpipe

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ============================================================================
// 调度器接口
// ============================================================================

// Scheduler 调度器接口
type Scheduler interface {
	// CreateWorker 创建一个串行执行通道
	CreateWorker() Worker
	// Now 调度器时钟
	Now() time.Time
	// Start 关闭后重新启动
	Start()
	// Shutdown 关闭调度器，之后提交的任务返回ErrSchedulerRejected
	Shutdown()
}

// Worker 串行执行通道，提交到同一个Worker的任务按提交顺序依次执行，不会重叠
// 释放Worker会取消它所有未执行的任务
type Worker interface {
	Disposable
	// Schedule 提交任务
	Schedule(task func()) (Disposable, error)
	// ScheduleWithDelay 延迟提交任务
	ScheduleWithDelay(task func(), delay time.Duration) (Disposable, error)
}

// Executor 外部执行器，Execute返回错误表示拒绝
type Executor interface {
	Execute(task func()) error
}

// ExecutorFunc 函数形式的执行器
type ExecutorFunc func(task func()) error

func (f ExecutorFunc) Execute(task func()) error { return f(task) }

// scheduleDirect 在新Worker上执行一次任务，返回的Disposable释放该Worker
func scheduleDirect(scheduler Scheduler, task func(), delay time.Duration) (Disposable, error) {
	w := scheduler.CreateWorker()
	if _, err := w.ScheduleWithDelay(func() {
		defer w.Dispose()
		task()
	}, delay); err != nil {
		w.Dispose()
		return nil, err
	}
	return w, nil
}

// ============================================================================
// 被拒绝的Worker
// ============================================================================

// rejectingWorker 调度器关闭后创建的Worker，拒绝所有任务
type rejectingWorker struct{}

func (rejectingWorker) Schedule(func()) (Disposable, error) {
	return nil, ErrSchedulerRejected
}

func (rejectingWorker) ScheduleWithDelay(func(), time.Duration) (Disposable, error) {
	return nil, ErrSchedulerRejected
}

func (rejectingWorker) Dispose()         {}
func (rejectingWorker) IsDisposed() bool { return true }

// ============================================================================
// 蹦床调度器 - Trampoline Scheduler
// ============================================================================

// trampolineScheduler 在提交任务的goroutine上内联执行
// 执行期间再提交的任务进入FIFO队列，由最外层调用迭代执行，不会递归
type trampolineScheduler struct {
	shutdown atomic.Bool
}

// NewTrampolineScheduler 创建蹦床调度器
func NewTrampolineScheduler() Scheduler {
	return &trampolineScheduler{}
}

func (s *trampolineScheduler) CreateWorker() Worker {
	return &trampolineWorker{scheduler: s}
}

func (s *trampolineScheduler) Now() time.Time { return time.Now() }
func (s *trampolineScheduler) Start()         { s.shutdown.Store(false) }
func (s *trampolineScheduler) Shutdown()      { s.shutdown.Store(true) }

type trampolineTask struct {
	scheduledTask
	due time.Time
}

type trampolineWorker struct {
	scheduler *trampolineScheduler
	disposed  atomic.Bool

	mu       sync.Mutex
	queue    []*trampolineTask
	draining bool
}

func (w *trampolineWorker) Schedule(task func()) (Disposable, error) {
	return w.ScheduleWithDelay(task, 0)
}

// ScheduleWithDelay 延迟任务在执行时于当前goroutine上等待到期
func (w *trampolineWorker) ScheduleWithDelay(task func(), delay time.Duration) (Disposable, error) {
	if w.disposed.Load() || w.scheduler.shutdown.Load() {
		return nil, ErrSchedulerRejected
	}

	t := &trampolineTask{due: time.Now().Add(delay)}
	t.run = task

	w.mu.Lock()
	w.queue = append(w.queue, t)
	if w.draining {
		w.mu.Unlock()
		return t, nil
	}
	w.draining = true
	w.mu.Unlock()

	w.drain()
	return t, nil
}

func (w *trampolineWorker) drain() {
	defer func() {
		// panic会传播给调用者，剩余任务留给下一次提交
		w.mu.Lock()
		w.draining = false
		w.mu.Unlock()
	}()

	for {
		w.mu.Lock()
		if len(w.queue) == 0 || w.disposed.Load() {
			w.mu.Unlock()
			return
		}
		t := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
		w.mu.Unlock()

		if t.IsDisposed() {
			continue
		}
		if wait := time.Until(t.due); wait > 0 {
			time.Sleep(wait)
		}
		if !t.IsDisposed() {
			t.run()
		}
	}
}

func (w *trampolineWorker) Dispose() {
	if w.disposed.CompareAndSwap(false, true) {
		w.mu.Lock()
		w.queue = nil
		w.mu.Unlock()
	}
}

func (w *trampolineWorker) IsDisposed() bool {
	return w.disposed.Load()
}

// ============================================================================
// 外部执行器调度器 - Executor Scheduler
// ============================================================================

// executorScheduler 把任务交给外部执行器运行，不管理执行器的生命周期
type executorScheduler struct {
	executor Executor
	log      *slog.Logger
	shutdown atomic.Bool
}

// NewExecutorScheduler 用外部执行器创建调度器
// 每个Worker在执行器上串行运行自己的任务
func NewExecutorScheduler(executor Executor, log *slog.Logger) Scheduler {
	return &executorScheduler{
		executor: executor,
		log:      orDiscard(log),
	}
}

func (s *executorScheduler) CreateWorker() Worker {
	if s.shutdown.Load() {
		return rejectingWorker{}
	}
	return &executorWorker{scheduler: s}
}

func (s *executorScheduler) Now() time.Time { return time.Now() }
func (s *executorScheduler) Start()         { s.shutdown.Store(false) }
func (s *executorScheduler) Shutdown()      { s.shutdown.Store(true) }

type executorWorker struct {
	scheduler *executorScheduler
	tasks     CompositeDisposable
	disposed  atomic.Bool

	mu      sync.Mutex
	queue   []*scheduledTask
	running bool
}

func (w *executorWorker) Schedule(task func()) (Disposable, error) {
	return w.ScheduleWithDelay(task, 0)
}

func (w *executorWorker) ScheduleWithDelay(task func(), delay time.Duration) (Disposable, error) {
	if w.disposed.Load() || w.scheduler.shutdown.Load() {
		return nil, ErrSchedulerRejected
	}

	t := &scheduledTask{run: task}
	t.onDispose = func() { w.tasks.Delete(t) }
	if !w.tasks.Add(t) {
		return nil, ErrSchedulerRejected
	}

	if delay <= 0 {
		if err := w.enqueue(t); err != nil {
			t.Dispose()
			return nil, err
		}
		return t, nil
	}

	t.setTimer(time.AfterFunc(delay, func() {
		if err := w.enqueue(t); err != nil {
			w.scheduler.log.Warn("Dropping delayed task", "err", err)
		}
	}))
	return t, nil
}

func (w *executorWorker) enqueue(t *scheduledTask) error {
	w.mu.Lock()
	w.queue = append(w.queue, t)
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.scheduler.executor.Execute(w.drain); err != nil {
		w.mu.Lock()
		w.running = false
		w.queue = nil
		w.mu.Unlock()
		return ErrSchedulerRejected
	}
	return nil
}

func (w *executorWorker) drain() {
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.running = false
			w.mu.Unlock()
			return
		}
		t := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
		w.mu.Unlock()

		if t.IsDisposed() {
			continue
		}
		w.tasks.Delete(t)
		runTask(t.run, w.scheduler.log, "executor")
	}
}

func (w *executorWorker) Dispose() {
	if w.disposed.CompareAndSwap(false, true) {
		w.tasks.Dispose()
	}
}

func (w *executorWorker) IsDisposed() bool {
	return w.disposed.Load()
}

// runTask 执行任务并把panic记录为错误日志
func runTask(task func(), log *slog.Logger, lane string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Scheduled task panicked", "lane", lane, "panic", r)
		}
	}()

	task()
}

// ============================================================================
// 调度器性能监控
// ============================================================================

// SchedulerMetrics 调度器性能指标
type SchedulerMetrics struct {
	TasksScheduled int64
	TasksCompleted int64
	TasksFailed    int64
	TasksRejected  int64
	AverageLatency time.Duration
}

// MonitoredScheduler 带监控的调度器包装器
type MonitoredScheduler struct {
	scheduler Scheduler

	scheduled atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	mu             sync.Mutex
	averageLatency time.Duration
}

// NewMonitoredScheduler 创建带监控的调度器
func NewMonitoredScheduler(scheduler Scheduler) *MonitoredScheduler {
	return &MonitoredScheduler{scheduler: scheduler}
}

func (s *MonitoredScheduler) CreateWorker() Worker {
	return &monitoredWorker{Worker: s.scheduler.CreateWorker(), scheduler: s}
}

func (s *MonitoredScheduler) Now() time.Time { return s.scheduler.Now() }
func (s *MonitoredScheduler) Start()         { s.scheduler.Start() }
func (s *MonitoredScheduler) Shutdown()      { s.scheduler.Shutdown() }

// Metrics 获取调度器指标
func (s *MonitoredScheduler) Metrics() SchedulerMetrics {
	s.mu.Lock()
	latency := s.averageLatency
	s.mu.Unlock()

	return SchedulerMetrics{
		TasksScheduled: s.scheduled.Load(),
		TasksCompleted: s.completed.Load(),
		TasksFailed:    s.failed.Load(),
		TasksRejected:  s.rejected.Load(),
		AverageLatency: latency,
	}
}

// updateAverageLatency 更新平均延迟
func (s *MonitoredScheduler) updateAverageLatency(latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 简单的移动平均计算
	if s.averageLatency == 0 {
		s.averageLatency = latency
	} else {
		s.averageLatency = (s.averageLatency + latency) / 2
	}
}

type monitoredWorker struct {
	Worker
	scheduler *MonitoredScheduler
}

func (w *monitoredWorker) Schedule(task func()) (Disposable, error) {
	return w.ScheduleWithDelay(task, 0)
}

func (w *monitoredWorker) ScheduleWithDelay(task func(), delay time.Duration) (Disposable, error) {
	s := w.scheduler
	due := s.Now().Add(delay)

	s.scheduled.Add(1)
	d, err := w.Worker.ScheduleWithDelay(func() {
		s.updateAverageLatency(s.Now().Sub(due))
		defer func() {
			if r := recover(); r != nil {
				s.failed.Add(1)
				panic(r)
			}
			s.completed.Add(1)
		}()

		task()
	}, delay)
	if err != nil {
		s.scheduled.Add(-1)
		s.rejected.Add(1)
		return nil, err
	}
	return d, nil
}
