package rxpipe

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// 调度任务
// ============================================================================

// scheduledTask 已提交的任务，释放后不再执行
type scheduledTask struct {
	run       func()
	disposed  atomic.Bool
	onDispose func()

	mu    sync.Mutex
	timer *time.Timer
}

func (t *scheduledTask) setTimer(timer *time.Timer) {
	t.mu.Lock()
	t.timer = timer
	t.mu.Unlock()

	if t.disposed.Load() {
		timer.Stop()
	}
}

func (t *scheduledTask) Dispose() {
	if !t.disposed.CompareAndSwap(false, true) {
		return
	}
	t.mu.Lock()
	timer := t.timer
	t.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if t.onDispose != nil {
		t.onDispose()
	}
}

func (t *scheduledTask) IsDisposed() bool {
	return t.disposed.Load()
}

// ============================================================================
// 事件循环
// ============================================================================

// eventLoop 单个goroutine按FIFO顺序执行任务
type eventLoop struct {
	name string
	log  *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*scheduledTask
	stopped bool
	exited  chan struct{}
}

func newEventLoop(kind string, log *slog.Logger) *eventLoop {
	l := &eventLoop{
		name:   kind + "-" + uuid.NewString()[:8],
		log:    log,
		exited: make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// submit 入队任务，循环已停止时返回false
func (l *eventLoop) submit(t *scheduledTask) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return false
	}
	l.queue = append(l.queue, t)
	l.cond.Signal()
	return true
}

func (l *eventLoop) run() {
	defer close(l.exited)

	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.stopped {
			l.cond.Wait()
		}
		if l.stopped {
			l.mu.Unlock()
			return
		}
		t := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		if !t.IsDisposed() {
			runTask(t.run, l.log, l.name)
		}
	}
}

// stop 停止循环，丢弃未执行的任务；可以在循环自己的任务中调用
func (l *eventLoop) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopped = true
	l.queue = nil
	l.cond.Broadcast()
}

// ============================================================================
// 事件循环Worker
// ============================================================================

// loopWorker 绑定到一个事件循环的Worker
type loopWorker struct {
	loop      *eventLoop
	tasks     CompositeDisposable
	disposed  atomic.Bool
	onDispose func()
}

func (w *loopWorker) Schedule(task func()) (Disposable, error) {
	return w.ScheduleWithDelay(task, 0)
}

func (w *loopWorker) ScheduleWithDelay(task func(), delay time.Duration) (Disposable, error) {
	if w.disposed.Load() {
		return nil, ErrSchedulerRejected
	}

	t := &scheduledTask{}
	t.run = func() {
		w.tasks.Delete(t)
		task()
	}
	t.onDispose = func() { w.tasks.Delete(t) }
	if !w.tasks.Add(t) {
		return nil, ErrSchedulerRejected
	}

	if delay <= 0 {
		if !w.loop.submit(t) {
			t.Dispose()
			return nil, ErrSchedulerRejected
		}
		return t, nil
	}

	t.setTimer(time.AfterFunc(delay, func() {
		if !t.IsDisposed() && !w.loop.submit(t) {
			w.loop.log.Debug("Dropping delayed task for stopped loop", "loop", w.loop.name)
		}
	}))
	return t, nil
}

func (w *loopWorker) Dispose() {
	if w.disposed.CompareAndSwap(false, true) {
		w.tasks.Dispose()
		if w.onDispose != nil {
			w.onDispose()
		}
	}
}

func (w *loopWorker) IsDisposed() bool {
	return w.disposed.Load()
}

// ============================================================================
// 固定池调度器 - Computation / Single
// ============================================================================

// poolScheduler 固定数量的事件循环，Worker轮询分配到循环上
type poolScheduler struct {
	kind string
	size int
	log  *slog.Logger

	mu    sync.Mutex
	loops []*eventLoop
	next  atomic.Uint64
}

// NewComputationScheduler 创建计算调度器，size<=0时使用GOMAXPROCS
func NewComputationScheduler(size int, log *slog.Logger) Scheduler {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	s := &poolScheduler{kind: "computation", size: size, log: orDiscard(log)}
	s.Start()
	return s
}

// NewSingleScheduler 创建单线程调度器，所有Worker共享同一个事件循环
func NewSingleScheduler(log *slog.Logger) Scheduler {
	s := &poolScheduler{kind: "single", size: 1, log: orDiscard(log)}
	s.Start()
	return s
}

func (s *poolScheduler) CreateWorker() Worker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loops == nil {
		return rejectingWorker{}
	}
	loop := s.loops[s.next.Add(1)%uint64(len(s.loops))]
	return &loopWorker{loop: loop}
}

func (s *poolScheduler) Now() time.Time { return time.Now() }

func (s *poolScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loops != nil {
		return
	}
	s.loops = make([]*eventLoop, s.size)
	for i := range s.loops {
		s.loops[i] = newEventLoop(s.kind, s.log)
	}
	s.log.Info("Scheduler started", "kind", s.kind, "loops", s.size)
}

func (s *poolScheduler) Shutdown() {
	s.mu.Lock()
	loops := s.loops
	s.loops = nil
	s.mu.Unlock()

	if loops == nil {
		return
	}
	for _, l := range loops {
		l.stop()
	}
	s.log.Info("Scheduler shut down", "kind", s.kind)
}

// ============================================================================
// 新线程调度器 - NewThread Scheduler
// ============================================================================

// newThreadScheduler 每个Worker独占一个事件循环，Worker释放时循环停止
type newThreadScheduler struct {
	log      *slog.Logger
	shutdown atomic.Bool
	workers  *CompositeDisposable
	mu       sync.Mutex
}

// NewNewThreadScheduler 创建新线程调度器
func NewNewThreadScheduler(log *slog.Logger) Scheduler {
	return &newThreadScheduler{
		log:     orDiscard(log),
		workers: NewCompositeDisposable(),
	}
}

func (s *newThreadScheduler) CreateWorker() Worker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown.Load() {
		return rejectingWorker{}
	}
	loop := newEventLoop("newthread", s.log)
	workers := s.workers
	w := &loopWorker{loop: loop}
	w.onDispose = func() {
		loop.stop()
		workers.Delete(w)
	}
	workers.Add(w)
	return w
}

func (s *newThreadScheduler) Now() time.Time { return time.Now() }

func (s *newThreadScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown.CompareAndSwap(true, false) {
		s.workers = NewCompositeDisposable()
		s.log.Info("Scheduler started", "kind", "newthread")
	}
}

func (s *newThreadScheduler) Shutdown() {
	s.mu.Lock()
	if !s.shutdown.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return
	}
	workers := s.workers
	s.mu.Unlock()

	workers.Dispose()
	s.log.Info("Scheduler shut down", "kind", "newthread")
}

// ============================================================================
// IO调度器 - IO Scheduler
// ============================================================================

type idleLoop struct {
	loop   *eventLoop
	expiry time.Time
}

// ioScheduler 按需增长的缓存池：每个活跃Worker一个循环，释放后的循环空闲keepAlive后回收
type ioScheduler struct {
	keepAlive time.Duration
	log       *slog.Logger

	mu        sync.Mutex
	idle      []idleLoop
	workers   *CompositeDisposable
	shutdown  bool
	stopEvict chan struct{}
}

// NewIOScheduler 创建IO调度器，keepAlive<=0时使用60秒
func NewIOScheduler(keepAlive time.Duration, log *slog.Logger) Scheduler {
	if keepAlive <= 0 {
		keepAlive = 60 * time.Second
	}
	s := &ioScheduler{
		keepAlive: keepAlive,
		log:       orDiscard(log),
		shutdown:  true,
	}
	s.Start()
	return s
}

func (s *ioScheduler) CreateWorker() Worker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return rejectingWorker{}
	}

	var loop *eventLoop
	if n := len(s.idle); n > 0 {
		loop = s.idle[n-1].loop
		s.idle = s.idle[:n-1]
	} else {
		loop = newEventLoop("io", s.log)
	}

	workers := s.workers
	w := &loopWorker{loop: loop}
	w.onDispose = func() {
		workers.Delete(w)
		s.release(loop)
	}
	workers.Add(w)
	return w
}

// release 把循环放回空闲池，调度器已关闭时直接停止
func (s *ioScheduler) release(loop *eventLoop) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		loop.stop()
		return
	}
	s.idle = append(s.idle, idleLoop{loop: loop, expiry: time.Now().Add(s.keepAlive)})
}

func (s *ioScheduler) evict(stop <-chan struct{}) {
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			kept := s.idle[:0]
			evicted := 0
			for _, il := range s.idle {
				if now.After(il.expiry) {
					il.loop.stop()
					evicted++
					continue
				}
				kept = append(kept, il)
			}
			clear(s.idle[len(kept):])
			s.idle = kept
			s.mu.Unlock()

			if evicted > 0 {
				s.log.Debug("Evicted idle io loops", "count", evicted)
			}
		}
	}
}

func (s *ioScheduler) Now() time.Time { return time.Now() }

func (s *ioScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.shutdown {
		return
	}
	s.shutdown = false
	s.workers = NewCompositeDisposable()
	s.stopEvict = make(chan struct{})
	go s.evict(s.stopEvict)
	s.log.Info("Scheduler started", "kind", "io", "keep_alive", s.keepAlive)
}

func (s *ioScheduler) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	close(s.stopEvict)
	idle := s.idle
	s.idle = nil
	workers := s.workers
	s.mu.Unlock()

	for _, il := range idle {
		il.loop.stop()
	}
	workers.Dispose()
	s.log.Info("Scheduler shut down", "kind", "io")
}
