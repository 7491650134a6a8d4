// Single and Maybe for rxpipe
// 单值Observable：Single发射一个值或错误，Maybe发射零个或一个值
package rxpipe

import (
	"context"
	"time"
)

// ============================================================================
// Single
// ============================================================================

// Single 恰好发射一个值或一个错误
type Single[T any] struct {
	source *Observable[T]
}

// SingleJust 发射value
func SingleJust[T any](value T, options ...Option) *Single[T] {
	return &Single[T]{source: FromSlice([]T{value}, options...)}
}

// SingleError 发射err
func SingleError[T any](err error, options ...Option) *Single[T] {
	return &Single[T]{source: Throw[T](err, options...)}
}

// SingleFromFunc 订阅时调用fn
func SingleFromFunc[T any](fn func() (T, error), options ...Option) *Single[T] {
	return &Single[T]{source: FromFunc(fn, options...)}
}

// SingleTimer 延迟delay后发射0
func SingleTimer(delay time.Duration, options ...Option) *Single[int64] {
	return &Single[int64]{source: Timer(delay, options...)}
}

// SingleFromObservable 取源的第一个元素，源为空时以ErrNoElements终止
func SingleFromObservable[T any](src *Observable[T]) *Single[T] {
	return &Single[T]{source: src.First()}
}

// MapSingle 转换Single的值
func MapSingle[T, R any](s *Single[T], mapper Mapper[T, R]) *Single[R] {
	return &Single[R]{source: Map(s.source, mapper)}
}

// FlatMapSingle 用值选择下一个Single
func FlatMapSingle[T, R any](s *Single[T], mapper func(T) *Single[R]) *Single[R] {
	return &Single[R]{source: ConcatMap(s.source, func(v T) *Observable[R] {
		return mapper(v).source
	})}
}

// Subscribe 订阅，onSuccess和onError只有一个会被调用
func (s *Single[T]) Subscribe(onSuccess func(T), onError func(error)) Disposable {
	return s.source.SubscribeFunc(onSuccess, onError, nil)
}

// Filter 值不满足谓词时变为空的Maybe
func (s *Single[T]) Filter(predicate Predicate[T]) *Maybe[T] {
	return &Maybe[T]{source: s.source.Filter(predicate)}
}

// Catch 出错时切换到handler返回的Single
func (s *Single[T]) Catch(handler func(err error) *Single[T]) *Single[T] {
	return &Single[T]{source: s.source.OnErrorResumeWith(func(err error) *Observable[T] {
		if next := handler(err); next != nil {
			return next.source
		}
		return nil
	})}
}

// Retry 出错时重新订阅，最多n次
func (s *Single[T]) Retry(n int) *Single[T] {
	return &Single[T]{source: s.source.Retry(n)}
}

// SubscribeOn 在scheduler上订阅
func (s *Single[T]) SubscribeOn(scheduler Scheduler) *Single[T] {
	return &Single[T]{source: s.source.SubscribeOn(scheduler)}
}

// ObserveOn 在scheduler上投递结果
func (s *Single[T]) ObserveOn(scheduler Scheduler) *Single[T] {
	return &Single[T]{source: s.source.ObserveOn(scheduler)}
}

// ToObservable 转换为只发射一个元素的Observable
func (s *Single[T]) ToObservable() *Observable[T] {
	return s.source
}

// BlockingGet 阻塞等待结果
func (s *Single[T]) BlockingGet(ctx context.Context) (T, error) {
	return s.source.BlockingFirst(ctx)
}

// ============================================================================
// Maybe
// ============================================================================

// Maybe 发射一个值、直接完成或发射一个错误
type Maybe[T any] struct {
	source *Observable[T]
}

// MaybeJust 发射value
func MaybeJust[T any](value T, options ...Option) *Maybe[T] {
	return &Maybe[T]{source: FromSlice([]T{value}, options...)}
}

// MaybeEmpty 不发射值直接完成
func MaybeEmpty[T any](options ...Option) *Maybe[T] {
	return &Maybe[T]{source: Empty[T](options...)}
}

// MaybeError 发射err
func MaybeError[T any](err error, options ...Option) *Maybe[T] {
	return &Maybe[T]{source: Throw[T](err, options...)}
}

// MaybeFromObservable 取源的第一个元素，源为空时直接完成
func MaybeFromObservable[T any](src *Observable[T]) *Maybe[T] {
	return &Maybe[T]{source: src.Take(1)}
}

// MapMaybe 转换Maybe的值
func MapMaybe[T, R any](m *Maybe[T], mapper Mapper[T, R]) *Maybe[R] {
	return &Maybe[R]{source: Map(m.source, mapper)}
}

// Subscribe 订阅；有值时只调用onSuccess，为空时只调用onComplete
func (m *Maybe[T]) Subscribe(onSuccess func(T), onError func(error), onComplete func()) Disposable {
	got := false
	return m.source.SubscribeFunc(func(v T) {
		got = true
		if onSuccess != nil {
			onSuccess(v)
		}
	}, onError, func() {
		if !got && onComplete != nil {
			onComplete()
		}
	})
}

// Filter 值不满足谓词时变为空
func (m *Maybe[T]) Filter(predicate Predicate[T]) *Maybe[T] {
	return &Maybe[T]{source: m.source.Filter(predicate)}
}

// DefaultIfEmpty 为空时发射defaultValue
func (m *Maybe[T]) DefaultIfEmpty(defaultValue T) *Single[T] {
	return &Single[T]{source: m.source.DefaultIfEmpty(defaultValue)}
}

// ToSingle 为空时以ErrNoElements终止
func (m *Maybe[T]) ToSingle() *Single[T] {
	return &Single[T]{source: m.source.First()}
}

// Catch 出错时切换到handler返回的Maybe
func (m *Maybe[T]) Catch(handler func(err error) *Maybe[T]) *Maybe[T] {
	return &Maybe[T]{source: m.source.OnErrorResumeWith(func(err error) *Observable[T] {
		if next := handler(err); next != nil {
			return next.source
		}
		return nil
	})}
}

// ToObservable 转换为最多发射一个元素的Observable
func (m *Maybe[T]) ToObservable() *Observable[T] {
	return m.source
}

// BlockingGet 阻塞等待结果，ok为false表示为空
func (m *Maybe[T]) BlockingGet(ctx context.Context) (value T, ok bool, err error) {
	values, err := m.source.ToSlice(ctx)
	if err != nil || len(values) == 0 {
		return value, false, err
	}
	return values[0], true, nil
}
