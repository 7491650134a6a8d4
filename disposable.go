package rxpipe

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// ============================================================================
// 生命周期管理
// ============================================================================

// Disposable 可释放资源的接口
// Dispose是幂等的，可以被多个goroutine并发调用
type Disposable interface {
	// Dispose 释放资源
	Dispose()
	// IsDisposed 检查是否已释放
	IsDisposed() bool
}

// baseDisposable 基础可释放资源实现
type baseDisposable struct {
	disposed atomic.Bool
	action   func()
}

// NewDisposable 创建可释放资源，action在第一次Dispose时执行且只执行一次
func NewDisposable(action func()) Disposable {
	return &baseDisposable{action: action}
}

// Disposed 返回一个已经释放的Disposable
func Disposed() Disposable {
	d := &baseDisposable{}
	d.disposed.Store(true)
	return d
}

// Dispose 释放资源
func (d *baseDisposable) Dispose() {
	if d.disposed.CompareAndSwap(false, true) {
		if d.action != nil {
			d.action()
		}
	}
}

// IsDisposed 检查是否已释放
func (d *baseDisposable) IsDisposed() bool {
	return d.disposed.Load()
}

// ============================================================================
// CompositeDisposable
// ============================================================================

// CompositeDisposable 组合式资源管理器，批量释放但不拥有各资源的生命周期
// 零值可以直接使用。不可比较的值类型只随整体释放，Delete/Remove找不到它们。
type CompositeDisposable struct {
	mu        sync.Mutex
	disposed  bool
	resources map[Disposable]struct{}
	unkeyed   []Disposable
}

func hashable(d Disposable) bool {
	return reflect.TypeOf(d).Comparable()
}

// NewCompositeDisposable 创建组合式资源管理器
func NewCompositeDisposable(disposables ...Disposable) *CompositeDisposable {
	cd := &CompositeDisposable{}
	for _, d := range disposables {
		cd.Add(d)
	}
	return cd
}

// Add 添加可释放资源，若已经释放则立即释放d并返回false
func (cd *CompositeDisposable) Add(d Disposable) bool {
	if d == nil {
		return false
	}
	cd.mu.Lock()
	if cd.disposed {
		cd.mu.Unlock()
		d.Dispose()
		return false
	}
	if !hashable(d) {
		cd.unkeyed = append(cd.unkeyed, d)
		cd.mu.Unlock()
		return true
	}
	if cd.resources == nil {
		cd.resources = make(map[Disposable]struct{})
	}
	cd.resources[d] = struct{}{}
	cd.mu.Unlock()
	return true
}

// Remove 移除并释放资源
func (cd *CompositeDisposable) Remove(d Disposable) bool {
	if cd.Delete(d) {
		d.Dispose()
		return true
	}
	return false
}

// Delete 移除资源但不释放
func (cd *CompositeDisposable) Delete(d Disposable) bool {
	cd.mu.Lock()
	defer cd.mu.Unlock()

	if cd.disposed || d == nil || !hashable(d) {
		return false
	}
	if _, ok := cd.resources[d]; !ok {
		return false
	}
	delete(cd.resources, d)
	return true
}

// Size 当前持有的资源数量
func (cd *CompositeDisposable) Size() int {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return len(cd.resources) + len(cd.unkeyed)
}

// Clear 释放当前所有资源，之后仍可继续添加
func (cd *CompositeDisposable) Clear() {
	cd.mu.Lock()
	if cd.disposed {
		cd.mu.Unlock()
		return
	}
	resources, unkeyed := cd.resources, cd.unkeyed
	cd.resources, cd.unkeyed = nil, nil
	cd.mu.Unlock()

	disposeAll(resources, unkeyed)
}

// Dispose 释放所有资源，之后添加的资源会被立即释放
func (cd *CompositeDisposable) Dispose() {
	cd.mu.Lock()
	if cd.disposed {
		cd.mu.Unlock()
		return
	}
	cd.disposed = true
	resources, unkeyed := cd.resources, cd.unkeyed
	cd.resources, cd.unkeyed = nil, nil
	cd.mu.Unlock()

	// 锁外释放，资源的释放动作可能回调本对象
	disposeAll(resources, unkeyed)
}

func disposeAll(resources map[Disposable]struct{}, unkeyed []Disposable) {
	for d := range resources {
		d.Dispose()
	}
	for _, d := range unkeyed {
		d.Dispose()
	}
}

// IsDisposed 检查是否已释放
func (cd *CompositeDisposable) IsDisposed() bool {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return cd.disposed
}

// ============================================================================
// SerialDisposable
// ============================================================================

// SerialDisposable 持有一个可替换的资源，零值可以直接使用
type SerialDisposable struct {
	mu       sync.Mutex
	disposed bool
	current  Disposable
}

// Set 替换当前资源并释放旧资源；若已释放则立即释放d并返回false
func (sd *SerialDisposable) Set(d Disposable) bool {
	sd.mu.Lock()
	if sd.disposed {
		sd.mu.Unlock()
		if d != nil {
			d.Dispose()
		}
		return false
	}
	old := sd.current
	sd.current = d
	sd.mu.Unlock()

	if old != nil {
		old.Dispose()
	}
	return true
}

// Replace 替换当前资源但不释放旧资源
func (sd *SerialDisposable) Replace(d Disposable) bool {
	sd.mu.Lock()
	if sd.disposed {
		sd.mu.Unlock()
		if d != nil {
			d.Dispose()
		}
		return false
	}
	sd.current = d
	sd.mu.Unlock()
	return true
}

// Get 当前资源
func (sd *SerialDisposable) Get() Disposable {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	return sd.current
}

// Dispose 释放当前资源，之后设置的资源会被立即释放
func (sd *SerialDisposable) Dispose() {
	sd.mu.Lock()
	if sd.disposed {
		sd.mu.Unlock()
		return
	}
	sd.disposed = true
	current := sd.current
	sd.current = nil
	sd.mu.Unlock()

	if current != nil {
		current.Dispose()
	}
}

// IsDisposed 检查是否已释放
func (sd *SerialDisposable) IsDisposed() bool {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	return sd.disposed
}
