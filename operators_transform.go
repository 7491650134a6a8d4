// Transforming and filtering operators for rxpipe
// 转换与过滤操作符：改变元素类型的是包级函数，不改变类型的是方法
package rxpipe

// ============================================================================
// 转换操作符
// ============================================================================

// Map 对每个元素应用mapper，mapper返回错误时终止
func Map[T, R any](src *Observable[T], mapper Mapper[T, R]) *Observable[R] {
	return newObservable(src.config, func(sub *subscriber[R]) {
		op := &opObserver[T, R]{down: sub}
		op.onNext = func(v T) {
			r, err := tryMap[T, R](mapper, v)
			if err != nil {
				op.upstream.Dispose()
				sub.OnError(err)
				return
			}
			sub.OnNext(r)
		}
		src.Subscribe(op)
	})
}

// Scan 发射种子以及每一步的累积值
func Scan[T, R any](src *Observable[T], seed R, accumulator Accumulator[T, R]) *Observable[R] {
	return newObservable(src.config, func(sub *subscriber[R]) {
		acc := seed
		sub.OnNext(acc)

		op := &opObserver[T, R]{down: sub}
		op.onNext = func(v T) {
			next, err := tryApply(func(v T) R { return accumulator(acc, v) }, v)
			if err != nil {
				op.upstream.Dispose()
				sub.OnError(err)
				return
			}
			acc = next
			sub.OnNext(acc)
		}
		src.Subscribe(op)
	})
}

// StartWith 先发射给定的值，再订阅源
func (o *Observable[T]) StartWith(values ...T) *Observable[T] {
	return newObservable(o.config, func(sub *subscriber[T]) {
		for _, v := range values {
			if sub.IsDisposed() {
				return
			}
			sub.OnNext(v)
		}
		if !sub.IsDisposed() {
			o.Subscribe(forwardObserver[T]{down: sub})
		}
	})
}

// ============================================================================
// 过滤操作符
// ============================================================================

// Filter 只发射满足谓词的元素
func (o *Observable[T]) Filter(predicate Predicate[T]) *Observable[T] {
	return newObservable(o.config, func(sub *subscriber[T]) {
		op := &opObserver[T, T]{down: sub}
		op.onNext = func(v T) {
			ok, err := tryApply[T, bool](predicate, v)
			if err != nil {
				op.upstream.Dispose()
				sub.OnError(err)
				return
			}
			if ok {
				sub.OnNext(v)
			}
		}
		o.Subscribe(op)
	})
}

// Take 取前n个元素后取消上游并完成
func (o *Observable[T]) Take(n int) *Observable[T] {
	return newObservable(o.config, func(sub *subscriber[T]) {
		if n <= 0 {
			sub.OnComplete()
			return
		}

		remaining := n
		op := &opObserver[T, T]{down: sub}
		op.onNext = func(v T) {
			if remaining <= 0 {
				return
			}
			remaining--
			sub.OnNext(v)
			if remaining == 0 {
				op.upstream.Dispose()
				sub.OnComplete()
			}
		}
		o.Subscribe(op)
	})
}

// TakeWhile 发射元素直到谓词第一次返回false
func (o *Observable[T]) TakeWhile(predicate Predicate[T]) *Observable[T] {
	return newObservable(o.config, func(sub *subscriber[T]) {
		op := &opObserver[T, T]{down: sub}
		op.onNext = func(v T) {
			ok, err := tryApply[T, bool](predicate, v)
			switch {
			case err != nil:
				op.upstream.Dispose()
				sub.OnError(err)
			case ok:
				sub.OnNext(v)
			default:
				op.upstream.Dispose()
				sub.OnComplete()
			}
		}
		o.Subscribe(op)
	})
}

// Skip 跳过前n个元素
func (o *Observable[T]) Skip(n int) *Observable[T] {
	return newObservable(o.config, func(sub *subscriber[T]) {
		skipped := 0
		op := &opObserver[T, T]{down: sub}
		op.onNext = func(v T) {
			if skipped < n {
				skipped++
				return
			}
			sub.OnNext(v)
		}
		o.Subscribe(op)
	})
}

// SkipWhile 跳过元素直到谓词第一次返回false
func (o *Observable[T]) SkipWhile(predicate Predicate[T]) *Observable[T] {
	return newObservable(o.config, func(sub *subscriber[T]) {
		skipping := true
		op := &opObserver[T, T]{down: sub}
		op.onNext = func(v T) {
			if skipping {
				ok, err := tryApply[T, bool](predicate, v)
				if err != nil {
					op.upstream.Dispose()
					sub.OnError(err)
					return
				}
				if ok {
					return
				}
				skipping = false
			}
			sub.OnNext(v)
		}
		o.Subscribe(op)
	})
}

// Distinct 过滤掉重复的元素，只发射第一次出现的
func Distinct[T comparable](src *Observable[T]) *Observable[T] {
	return newObservable(src.config, func(sub *subscriber[T]) {
		seen := make(map[T]struct{})
		op := &opObserver[T, T]{down: sub}
		op.onNext = func(v T) {
			if _, ok := seen[v]; ok {
				return
			}
			seen[v] = struct{}{}
			sub.OnNext(v)
		}
		src.Subscribe(op)
	})
}

// DistinctUntilChanged 过滤掉与前一个元素相同的元素
func DistinctUntilChanged[T comparable](src *Observable[T]) *Observable[T] {
	return newObservable(src.config, func(sub *subscriber[T]) {
		var (
			last T
			has  bool
		)
		op := &opObserver[T, T]{down: sub}
		op.onNext = func(v T) {
			if has && v == last {
				return
			}
			last, has = v, true
			sub.OnNext(v)
		}
		src.Subscribe(op)
	})
}
