// Subject implementations for rxpipe
// 实现Subject系统，包括PublishSubject、BehaviorSubject、ReplaySubject、AsyncSubject
package rxpipe

import (
	"sync"
)

// ============================================================================
// Subject 核心
// ============================================================================

// subjectPolicy 决定各类Subject记录什么以及给新订阅者重放什么
// 两个方法都在Subject的锁内调用
type subjectPolicy[T any] interface {
	// record 记录输入信号，返回要转发给当前订阅者的信号
	record(n notification[T]) []notification[T]
	// replay 新订阅者在实时信号之前收到的元素
	replay(terminal *notification[T]) []T
}

// Subject 既是Observer也是Observable的热流
// 输入在内部串行化，可以被多个goroutine并发调用；终止信号被锁存
type Subject[T any] struct {
	*Observable[T]

	policy subjectPolicy[T]
	input  serialQueue[T]

	mu        sync.Mutex
	observers map[uint64]*serialQueue[T]
	nextID    uint64
	terminal  *notification[T]
}

func newSubject[T any](policy subjectPolicy[T], options []Option) *Subject[T] {
	s := &Subject[T]{
		policy:    policy,
		observers: make(map[uint64]*serialQueue[T]),
	}
	s.Observable = newObservable(newConfig(options), s.subscribeActual)
	s.input.deliver = s.dispatch
	return s
}

// OnSubscribe 已终止的Subject会立即释放新的上游
func (s *Subject[T]) OnSubscribe(d Disposable) {
	if s.input.terminated() {
		d.Dispose()
	}
}

// OnNext 发送下一个值
func (s *Subject[T]) OnNext(value T) {
	s.input.emit(nextOf(value))
}

// OnError 发送错误，之后的信号都被忽略
func (s *Subject[T]) OnError(err error) {
	s.input.emit(errorOf[T](err))
}

// OnComplete 发送完成信号，之后的信号都被忽略
func (s *Subject[T]) OnComplete() {
	s.input.emit(completeOf[T]())
}

// dispatch 由输入队列串行调用
func (s *Subject[T]) dispatch(n notification[T]) {
	s.mu.Lock()
	if s.terminal != nil {
		s.mu.Unlock()
		return
	}
	out := s.policy.record(n)
	targets := make([]*serialQueue[T], 0, len(s.observers))
	for _, q := range s.observers {
		targets = append(targets, q)
	}
	if n.isTerminal() {
		s.terminal = &n
		clear(s.observers)
	}
	s.mu.Unlock()

	for _, q := range targets {
		for _, o := range out {
			q.emit(o)
		}
	}
}

func (s *Subject[T]) subscribeActual(sub *subscriber[T]) {
	q := &serialQueue[T]{deliver: func(n notification[T]) { n.accept(sub) }}

	s.mu.Lock()
	replay := s.policy.replay(s.terminal)
	terminal := s.terminal
	id := s.nextID
	if terminal == nil {
		s.nextID++
		s.observers[id] = q
		// 先占住投递权，重放完成之前实时信号只排队
		q.hold()
	}
	s.mu.Unlock()

	if terminal != nil {
		for _, v := range replay {
			sub.OnNext(v)
		}
		terminal.accept(sub)
		return
	}

	sub.Add(NewDisposable(func() { s.remove(id) }))
	for _, v := range replay {
		if sub.IsDisposed() {
			break
		}
		sub.OnNext(v)
	}
	q.drain()
}

func (s *Subject[T]) remove(id uint64) {
	s.mu.Lock()
	delete(s.observers, id)
	s.mu.Unlock()
}

// HasObservers 检查是否有观察者
func (s *Subject[T]) HasObservers() bool {
	return s.ObserverCount() > 0
}

// ObserverCount 获取观察者数量
func (s *Subject[T]) ObserverCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}

// IsTerminated 是否已经收到终止信号
func (s *Subject[T]) IsTerminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal != nil
}

// ============================================================================
// PublishSubject - 发布主题
// ============================================================================

// PublishSubject 发布主题，只向当前订阅者发送新的值
type PublishSubject[T any] struct {
	*Subject[T]
}

// NewPublishSubject 创建新的发布主题
func NewPublishSubject[T any](options ...Option) *PublishSubject[T] {
	return &PublishSubject[T]{Subject: newSubject[T](publishPolicy[T]{}, options)}
}

type publishPolicy[T any] struct{}

func (publishPolicy[T]) record(n notification[T]) []notification[T] { return []notification[T]{n} }
func (publishPolicy[T]) replay(*notification[T]) []T                 { return nil }

// ============================================================================
// BehaviorSubject - 行为主题
// ============================================================================

// BehaviorSubject 新订阅者先收到最近的一个值
// 终止之后的订阅者只收到终止信号
type BehaviorSubject[T any] struct {
	*Subject[T]
	policy *behaviorPolicy[T]
}

// NewBehaviorSubject 用初始值创建行为主题
func NewBehaviorSubject[T any](initial T, options ...Option) *BehaviorSubject[T] {
	policy := &behaviorPolicy[T]{value: initial, has: true}
	return &BehaviorSubject[T]{Subject: newSubject[T](policy, options), policy: policy}
}

// NewBehaviorSubjectDefault 创建没有初始值的行为主题
func NewBehaviorSubjectDefault[T any](options ...Option) *BehaviorSubject[T] {
	policy := &behaviorPolicy[T]{}
	return &BehaviorSubject[T]{Subject: newSubject[T](policy, options), policy: policy}
}

// Value 当前值
func (s *BehaviorSubject[T]) Value() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy.value, s.policy.has
}

type behaviorPolicy[T any] struct {
	value T
	has   bool
}

func (p *behaviorPolicy[T]) record(n notification[T]) []notification[T] {
	if n.kind == signalNext {
		p.value, p.has = n.value, true
	}
	return []notification[T]{n}
}

func (p *behaviorPolicy[T]) replay(terminal *notification[T]) []T {
	if terminal != nil || !p.has {
		return nil
	}
	return []T{p.value}
}

// ============================================================================
// ReplaySubject - 重放主题
// ============================================================================

// ReplaySubject 新订阅者先按原顺序收到缓冲中的所有值，然后才是实时值
type ReplaySubject[T any] struct {
	*Subject[T]
	policy *replayPolicy[T]
}

// NewReplaySubject 按给定策略创建重放主题
func NewReplaySubject[T any](policy ReplayPolicy, options ...Option) *ReplaySubject[T] {
	p := &replayPolicy[T]{buffer: newReplayBuffer[T](policy)}
	return &ReplaySubject[T]{Subject: newSubject[T](p, options), policy: p}
}

// Values 当前缓冲中的值
func (s *ReplaySubject[T]) Values() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy.buffer.snapshot()
}

type replayPolicy[T any] struct {
	buffer *replayBuffer[T]
}

func (p *replayPolicy[T]) record(n notification[T]) []notification[T] {
	if n.kind == signalNext {
		p.buffer.add(n.value)
	}
	return []notification[T]{n}
}

func (p *replayPolicy[T]) replay(*notification[T]) []T {
	return p.buffer.snapshot()
}

// ============================================================================
// AsyncSubject - 异步主题
// ============================================================================

// AsyncSubject 只在完成时发出最后一个值
type AsyncSubject[T any] struct {
	*Subject[T]
}

// NewAsyncSubject 创建异步主题
func NewAsyncSubject[T any](options ...Option) *AsyncSubject[T] {
	return &AsyncSubject[T]{Subject: newSubject[T](&asyncPolicy[T]{}, options)}
}

type asyncPolicy[T any] struct {
	last T
	has  bool
}

func (p *asyncPolicy[T]) record(n notification[T]) []notification[T] {
	switch n.kind {
	case signalNext:
		p.last, p.has = n.value, true
		return nil
	case signalComplete:
		if p.has {
			return []notification[T]{nextOf(p.last), n}
		}
		return []notification[T]{n}
	default:
		p.has = false
		return []notification[T]{n}
	}
}

func (p *asyncPolicy[T]) replay(terminal *notification[T]) []T {
	if terminal != nil && terminal.kind == signalComplete && p.has {
		return []T{p.last}
	}
	return nil
}
