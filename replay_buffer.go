package rxpipe

import (
	"slices"
	"time"
)

// ============================================================================
// 重放策略
// ============================================================================

// ReplayPolicy 重放缓冲的淘汰策略，零值表示不限制
type ReplayPolicy struct {
	maxSize   int
	maxAge    time.Duration
	scheduler Scheduler
}

// UnboundedReplay 保留所有元素
func UnboundedReplay() ReplayPolicy {
	return ReplayPolicy{}
}

// SizeBoundReplay 只保留最近的n个元素
func SizeBoundReplay(n int) ReplayPolicy {
	return ReplayPolicy{maxSize: max(n, 1)}
}

// TimeBoundReplay 只保留maxAge以内的元素，时间取自scheduler（为nil时使用系统时钟）
func TimeBoundReplay(maxAge time.Duration, scheduler Scheduler) ReplayPolicy {
	return ReplayPolicy{maxAge: maxAge, scheduler: scheduler}
}

// SizeAndTimeBoundReplay 同时按数量和时间淘汰
func SizeAndTimeBoundReplay(n int, maxAge time.Duration, scheduler Scheduler) ReplayPolicy {
	return ReplayPolicy{maxSize: max(n, 1), maxAge: maxAge, scheduler: scheduler}
}

func (p ReplayPolicy) now() time.Time {
	if p.scheduler != nil {
		return p.scheduler.Now()
	}
	return time.Now()
}

// ============================================================================
// 重放缓冲
// ============================================================================

type timedValue[T any] struct {
	value T
	at    time.Time
}

// replayBuffer 按到达顺序保存元素，由持有者加锁保护
type replayBuffer[T any] struct {
	policy ReplayPolicy
	items  []timedValue[T]
}

func newReplayBuffer[T any](policy ReplayPolicy) *replayBuffer[T] {
	return &replayBuffer[T]{policy: policy}
}

func (b *replayBuffer[T]) add(v T) {
	b.items = append(b.items, timedValue[T]{value: v, at: b.policy.now()})
	b.trim()
}

func (b *replayBuffer[T]) trim() {
	drop := 0
	if b.policy.maxSize > 0 && len(b.items) > b.policy.maxSize {
		drop = len(b.items) - b.policy.maxSize
	}
	if b.policy.maxAge > 0 {
		cutoff := b.policy.now().Add(-b.policy.maxAge)
		for drop < len(b.items) && b.items[drop].at.Before(cutoff) {
			drop++
		}
	}
	if drop > 0 {
		b.items = slices.Delete(b.items, 0, drop)
	}
}

// snapshot 返回当前仍有效的元素
func (b *replayBuffer[T]) snapshot() []T {
	b.trim()
	out := make([]T, len(b.items))
	for i, it := range b.items {
		out[i] = it.value
	}
	return out
}
