package rxpipe

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ============================================================================
// 测试调度器 - Test Scheduler
// ============================================================================

// TestScheduler 虚拟时钟调度器，任务只在推进时间时执行
// 到期时间相同的任务按提交顺序执行
type TestScheduler struct {
	mu       sync.Mutex
	now      time.Time
	seq      uint64
	queue    []*testTask
	shutdown bool
}

type testTask struct {
	scheduledTask
	due    time.Time
	seq    uint64
	worker *testWorker
}

// NewTestScheduler 创建测试调度器，时钟从Unix零点开始
func NewTestScheduler() *TestScheduler {
	return &TestScheduler{now: time.Unix(0, 0)}
}

func (s *TestScheduler) CreateWorker() Worker {
	return &testWorker{scheduler: s}
}

// Now 当前虚拟时间
func (s *TestScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *TestScheduler) Start() {
	s.mu.Lock()
	s.shutdown = false
	s.mu.Unlock()
}

func (s *TestScheduler) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.queue = nil
	s.mu.Unlock()
}

// AdvanceTimeBy 把时钟向前推进d并执行到期的任务
func (s *TestScheduler) AdvanceTimeBy(d time.Duration) {
	s.AdvanceTimeTo(s.Now().Add(d))
}

// AdvanceTimeTo 把时钟推进到target并按到期顺序执行任务
// 任务执行期间新提交且在target之前到期的任务也会执行
func (s *TestScheduler) AdvanceTimeTo(target time.Time) {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.queue[0].due.After(target) {
			if target.After(s.now) {
				s.now = target
			}
			s.mu.Unlock()
			return
		}
		t := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		if t.due.After(s.now) {
			s.now = t.due
		}
		s.mu.Unlock()

		if !t.IsDisposed() && !t.worker.IsDisposed() {
			t.run()
		}
	}
}

// TriggerActions 执行当前时刻已经到期的任务
func (s *TestScheduler) TriggerActions() {
	s.AdvanceTimeTo(s.Now())
}

// PendingCount 尚未执行的任务数量
func (s *TestScheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.queue {
		if !t.IsDisposed() && !t.worker.IsDisposed() {
			n++
		}
	}
	return n
}

func (s *TestScheduler) enqueue(w *testWorker, task func(), delay time.Duration) (Disposable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return nil, ErrSchedulerRejected
	}
	if delay < 0 {
		delay = 0
	}
	s.seq++
	t := &testTask{due: s.now.Add(delay), seq: s.seq, worker: w}
	t.run = task

	i := sort.Search(len(s.queue), func(i int) bool {
		q := s.queue[i]
		return q.due.After(t.due) || (q.due.Equal(t.due) && q.seq > t.seq)
	})
	s.queue = append(s.queue, nil)
	copy(s.queue[i+1:], s.queue[i:])
	s.queue[i] = t
	return t, nil
}

type testWorker struct {
	scheduler *TestScheduler
	disposed  atomic.Bool
}

func (w *testWorker) Schedule(task func()) (Disposable, error) {
	return w.ScheduleWithDelay(task, 0)
}

func (w *testWorker) ScheduleWithDelay(task func(), delay time.Duration) (Disposable, error) {
	if w.disposed.Load() {
		return nil, ErrSchedulerRejected
	}
	return w.scheduler.enqueue(w, task, delay)
}

func (w *testWorker) Dispose()         { w.disposed.Store(true) }
func (w *testWorker) IsDisposed() bool { return w.disposed.Load() }
