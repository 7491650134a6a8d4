// Package rxpipe provides a push-based reactive stream engine for Go
// 基于推送模型的响应式流引擎：订阅生命周期、调度器、多播以及多源组合操作符
package rxpipe

import (
	"context"
	"log/slog"
)

// ============================================================================
// 核心类型定义
// ============================================================================

// Observer 观察者，接收Observable推送的信号
// 每次订阅先收到一次OnSubscribe，随后零个或多个OnNext，最后至多一个OnError或OnComplete
type Observer[T any] interface {
	OnSubscribe(d Disposable)
	OnNext(value T)
	OnError(err error)
	OnComplete()
}

// sink 是Observer去掉OnSubscribe后的信号接收面
type sink[T any] interface {
	OnNext(value T)
	OnError(err error)
	OnComplete()
}

// funcObserver 由回调函数组成的观察者
type funcObserver[T any] struct {
	onNext     func(T)
	onError    func(error)
	onComplete func()
}

// NewObserver 用回调函数创建观察者，任何回调都可以为nil
func NewObserver[T any](onNext func(T), onError func(error), onComplete func()) Observer[T] {
	return &funcObserver[T]{
		onNext:     onNext,
		onError:    onError,
		onComplete: onComplete,
	}
}

func (o *funcObserver[T]) OnSubscribe(Disposable) {}

func (o *funcObserver[T]) OnNext(value T) {
	if o.onNext != nil {
		o.onNext(value)
	}
}

func (o *funcObserver[T]) OnError(err error) {
	if o.onError != nil {
		o.onError(err)
	}
}

func (o *funcObserver[T]) OnComplete() {
	if o.onComplete != nil {
		o.onComplete()
	}
}

// Item 表示流中的一个数据项，包含值或错误
type Item[T any] struct {
	Value T     // 数据值
	Err   error // 错误信息
}

// IsError 检查项目是否包含错误
func (item Item[T]) IsError() bool {
	return item.Err != nil
}

// ============================================================================
// 信号
// ============================================================================

type signalKind uint8

const (
	signalNext signalKind = iota
	signalError
	signalComplete
)

// notification 物化后的信号，用于排队和跨goroutine转交
type notification[T any] struct {
	kind  signalKind
	value T
	err   error
}

func nextOf[T any](value T) notification[T] {
	return notification[T]{kind: signalNext, value: value}
}

func errorOf[T any](err error) notification[T] {
	return notification[T]{kind: signalError, err: err}
}

func completeOf[T any]() notification[T] {
	return notification[T]{kind: signalComplete}
}

func (n notification[T]) isTerminal() bool {
	return n.kind != signalNext
}

// accept 把信号投递给接收方
func (n notification[T]) accept(s sink[T]) {
	switch n.kind {
	case signalNext:
		s.OnNext(n.value)
	case signalError:
		s.OnError(n.err)
	default:
		s.OnComplete()
	}
}

// ============================================================================
// 回调类型：每种角色一个泛型类型
// ============================================================================

// Mapper 映射函数，返回错误时以OnError终止订阅
type Mapper[T, R any] func(value T) (R, error)

// Predicate 谓词函数，用于过滤
type Predicate[T any] func(value T) bool

// Accumulator 累积函数，用于Scan和Reduce
type Accumulator[T, R any] func(acc R, value T) R

// KeySelector 键选择函数，用于GroupBy和ToMap
type KeySelector[T any, K comparable] func(value T) K

// ============================================================================
// Emitter
// ============================================================================

// Emitter 是Create回调拿到的发射器
//
// 释放不会打断正在运行的同步生产循环。生产者应在发射之间检查IsDisposed，
// 或者在阻塞等待时select Done()，不要忙等。
type Emitter[T any] interface {
	OnNext(value T)
	OnError(err error)
	OnComplete()

	// IsDisposed 订阅已被释放或已终止
	IsDisposed() bool

	// Done 在订阅释放或终止时关闭
	Done() <-chan struct{}

	// SetDisposable 登记一个随订阅一起释放的资源
	SetDisposable(d Disposable)
}

// ============================================================================
// Observable
// ============================================================================

// Observable 惰性的异步序列描述，订阅前不做任何事
// 同一个Observable可以被多次订阅，每次订阅都是独立的执行（冷流）
type Observable[T any] struct {
	subscribeActual func(s *subscriber[T])
	config          *Config
}

func newObservable[T any](config *Config, subscribeActual func(s *subscriber[T])) *Observable[T] {
	if config == nil {
		config = DefaultConfig()
	}
	return &Observable[T]{
		subscribeActual: subscribeActual,
		config:          config,
	}
}

// ============================================================================
// 配置选项
// ============================================================================

// Option 配置选项接口
type Option interface {
	Apply(config *Config)
}

type optionFunc func(config *Config)

func (f optionFunc) Apply(config *Config) { f(config) }

// Config 配置结构，由源头创建时确定，派生出的操作符沿用同一份配置
type Config struct {
	// Context 用于查找调度器注册表
	Context context.Context
	// Scheduler 定时类工厂和操作符使用的调度器，为nil时使用注册表中的computation调度器
	Scheduler Scheduler
	// Logger 记录无法投递的错误等事件
	Logger *slog.Logger
	// BufferSize ToChannel使用的channel缓冲大小
	BufferSize int
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Context:    context.Background(),
		Logger:     discardLogger(),
		BufferSize: 16,
	}
}

func newConfig(options []Option) *Config {
	config := DefaultConfig()
	for _, opt := range options {
		opt.Apply(config)
	}
	if config.Context == nil {
		config.Context = context.Background()
	}
	if config.Logger == nil {
		config.Logger = discardLogger()
	}
	return config
}

// scheduler 返回配置的调度器，未配置时从上下文注册表取computation调度器
func (c *Config) scheduler() Scheduler {
	if c.Scheduler != nil {
		return c.Scheduler
	}
	return SchedulersFromContext(c.Context).Computation()
}

// WithConfig 复制已有配置，之后的选项可以继续覆盖
func WithConfig(cfg *Config) Option {
	return optionFunc(func(config *Config) {
		if cfg != nil {
			*config = *cfg
		}
	})
}

// WithContext 指定上下文，调度器注册表从该上下文读取
func WithContext(ctx context.Context) Option {
	return optionFunc(func(config *Config) {
		config.Context = ctx
	})
}

// WithScheduler 指定定时类操作使用的调度器
func WithScheduler(scheduler Scheduler) Option {
	return optionFunc(func(config *Config) {
		config.Scheduler = scheduler
	})
}

// WithLogger 指定日志记录器
func WithLogger(log *slog.Logger) Option {
	return optionFunc(func(config *Config) {
		config.Logger = log
	})
}

// WithBufferSize 指定ToChannel的缓冲大小
func WithBufferSize(size int) Option {
	return optionFunc(func(config *Config) {
		if size >= 0 {
			config.BufferSize = size
		}
	})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func orDiscard(log *slog.Logger) *slog.Logger {
	if log == nil {
		return discardLogger()
	}
	return log
}
