package rxpipe

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// ============================================================================
// 安全订阅者
// ============================================================================

// subscriber 包装下游观察者，保证信号契约：
// 终止后丢弃后续信号，终止或释放时释放上游资源，迟到的错误只记录日志
type subscriber[T any] struct {
	downstream Observer[T]
	log        *slog.Logger

	terminated atomic.Bool
	disposed   atomic.Bool
	resources  CompositeDisposable
	done       chan struct{}
}

func newSubscriber[T any](downstream Observer[T], log *slog.Logger) *subscriber[T] {
	return &subscriber[T]{
		downstream: downstream,
		log:        log,
		done:       make(chan struct{}),
	}
}

// OnNext 投递数据，终止或释放后丢弃
func (s *subscriber[T]) OnNext(value T) {
	if s.terminated.Load() || s.disposed.Load() {
		return
	}
	s.downstream.OnNext(value)
}

// OnError 投递错误，只有第一个终止信号生效
func (s *subscriber[T]) OnError(err error) {
	if s.disposed.Load() || !s.terminated.CompareAndSwap(false, true) {
		s.undeliverable(err)
		return
	}
	defer s.Dispose()
	s.downstream.OnError(err)
}

// OnComplete 投递完成信号，只有第一个终止信号生效
func (s *subscriber[T]) OnComplete() {
	if s.disposed.Load() || !s.terminated.CompareAndSwap(false, true) {
		return
	}
	defer s.Dispose()
	s.downstream.OnComplete()
}

func (s *subscriber[T]) undeliverable(err error) {
	if err == nil {
		return
	}
	s.log.Warn("Dropping undeliverable error", "err", err)
}

// Dispose 释放订阅以及登记的所有上游资源
func (s *subscriber[T]) Dispose() {
	if s.disposed.CompareAndSwap(false, true) {
		close(s.done)
		s.resources.Dispose()
	}
}

// IsDisposed 订阅已释放或已终止
func (s *subscriber[T]) IsDisposed() bool {
	return s.disposed.Load() || s.terminated.Load()
}

// Done 订阅释放时关闭
func (s *subscriber[T]) Done() <-chan struct{} {
	return s.done
}

// SetDisposable 登记随订阅释放的资源
func (s *subscriber[T]) SetDisposable(d Disposable) {
	s.resources.Add(d)
}

// protect 在调度器或独立goroutine上执行投递
// 下游回调panic时转换为ProducerError交给OnError，返回false表示订阅已终止
func (s *subscriber[T]) protect(deliver func()) bool {
	if err := safeExecute(deliver); err != nil {
		s.OnError(err)
		return false
	}
	return !s.IsDisposed()
}

// Add 登记上游资源，订阅已释放时立即释放d
func (s *subscriber[T]) Add(d Disposable) {
	s.resources.Add(d)
}

// ============================================================================
// 转发观察者
// ============================================================================

// forwardObserver 把上游信号原样转发给下游订阅
type forwardObserver[T any] struct {
	down *subscriber[T]
}

func (o forwardObserver[T]) OnSubscribe(d Disposable) { o.down.Add(d) }
func (o forwardObserver[T]) OnNext(value T)           { o.down.OnNext(value) }
func (o forwardObserver[T]) OnError(err error)        { o.down.OnError(err) }
func (o forwardObserver[T]) OnComplete()              { o.down.OnComplete() }

// opObserver 通用操作符观察者，onError/onComplete为nil时直接转发
type opObserver[T, R any] struct {
	down       *subscriber[R]
	upstream   Disposable
	onNext     func(value T)
	onError    func(err error)
	onComplete func()
}

func (o *opObserver[T, R]) OnSubscribe(d Disposable) {
	o.upstream = d
	o.down.Add(d)
}

func (o *opObserver[T, R]) OnNext(value T) {
	o.onNext(value)
}

func (o *opObserver[T, R]) OnError(err error) {
	if o.onError != nil {
		o.onError(err)
		return
	}
	o.down.OnError(err)
}

func (o *opObserver[T, R]) OnComplete() {
	if o.onComplete != nil {
		o.onComplete()
		return
	}
	o.down.OnComplete()
}

// ============================================================================
// 串行化队列
// ============================================================================

// serialQueue 发射循环：多个goroutine可以同时push，同一时刻只有一个在投递
// 可重入：投递过程中再次emit只会入队，由当前投递者继续处理
type serialQueue[T any] struct {
	mu       sync.Mutex
	queue    []notification[T]
	emitting bool
	done     bool
	deliver  func(n notification[T])
}

// push 入队，返回调用者是否获得了投递权
func (q *serialQueue[T]) push(n notification[T]) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.done {
		return false
	}
	if n.isTerminal() {
		q.done = true
	}
	q.queue = append(q.queue, n)
	if q.emitting {
		return false
	}
	q.emitting = true
	return true
}

// emit 入队并在获得投递权时排空队列
func (q *serialQueue[T]) emit(n notification[T]) {
	if q.push(n) {
		q.drain()
	}
}

// hold 占住投递权但不投递，之后的信号只会排队，直到调用drain
func (q *serialQueue[T]) hold() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.emitting {
		return false
	}
	q.emitting = true
	return true
}

// terminated 已经接收过终止信号
func (q *serialQueue[T]) terminated() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.done
}

// drain 投递队列中的全部信号，调用者必须持有投递权
func (q *serialQueue[T]) drain() {
	for {
		q.mu.Lock()
		if len(q.queue) == 0 {
			q.emitting = false
			q.mu.Unlock()
			return
		}
		batch := q.queue
		q.queue = nil
		q.mu.Unlock()

		for _, n := range batch {
			q.deliver(n)
		}
	}
}

// ============================================================================
// 工作计数循环
// ============================================================================

// drainLoop 工作计数循环，保证body不会并发也不会递归执行
// 执行期间的请求会让body再执行一轮
type drainLoop struct {
	wip atomic.Int32
}

func (l *drainLoop) run(body func()) {
	if l.wip.Add(1) != 1 {
		return
	}
	missed := int32(1)
	for {
		body()
		missed = l.wip.Add(-missed)
		if missed == 0 {
			return
		}
	}
}
