package rxpipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// 调度器配置
// ============================================================================

// SchedulerConfig 默认调度器的配置
type SchedulerConfig struct {
	// ComputationWorkers computation调度器的事件循环数量
	ComputationWorkers int `yaml:"computation_workers"`
	// IOKeepAlive io调度器空闲循环的保留时间
	IOKeepAlive time.Duration `yaml:"io_keep_alive"`
}

// DefaultSchedulerConfig 默认配置
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		ComputationWorkers: runtime.GOMAXPROCS(0),
		IOKeepAlive:        60 * time.Second,
	}
}

// Validate 检查配置
func (c SchedulerConfig) Validate() error {
	if c.ComputationWorkers <= 0 {
		return fmt.Errorf("computation_workers must be positive, got %d", c.ComputationWorkers)
	}
	if c.IOKeepAlive <= 0 {
		return fmt.Errorf("io_keep_alive must be positive, got %s", c.IOKeepAlive)
	}
	return nil
}

// LoadSchedulerConfig 从YAML读取配置，缺省字段使用默认值
func LoadSchedulerConfig(r io.Reader) (SchedulerConfig, error) {
	cfg := DefaultSchedulerConfig()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return SchedulerConfig{}, fmt.Errorf("decode scheduler config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return SchedulerConfig{}, fmt.Errorf("invalid scheduler config: %w", err)
	}
	return cfg, nil
}

// ============================================================================
// 调度器注册表
// ============================================================================

// Schedulers 默认调度器注册表，各调度器在第一次使用时创建
type Schedulers struct {
	cfg SchedulerConfig
	log *slog.Logger

	mu          sync.Mutex
	computation Scheduler
	io          Scheduler
	single      Scheduler
	newThread   Scheduler
	trampoline  Scheduler
}

// NewSchedulers 创建调度器注册表
func NewSchedulers(cfg SchedulerConfig, log *slog.Logger) *Schedulers {
	return &Schedulers{
		cfg: cfg,
		log: orDiscard(log),
	}
}

func (r *Schedulers) getOrCreate(slot *Scheduler, create func() Scheduler) Scheduler {
	r.mu.Lock()
	defer r.mu.Unlock()

	if *slot == nil {
		*slot = create()
	}
	return *slot
}

// Computation 计算调度器，固定数量的事件循环
func (r *Schedulers) Computation() Scheduler {
	return r.getOrCreate(&r.computation, func() Scheduler {
		return NewComputationScheduler(r.cfg.ComputationWorkers, r.log.With("scheduler", "computation"))
	})
}

// IO IO调度器，缓存池
func (r *Schedulers) IO() Scheduler {
	return r.getOrCreate(&r.io, func() Scheduler {
		return NewIOScheduler(r.cfg.IOKeepAlive, r.log.With("scheduler", "io"))
	})
}

// Single 单线程调度器
func (r *Schedulers) Single() Scheduler {
	return r.getOrCreate(&r.single, func() Scheduler {
		return NewSingleScheduler(r.log.With("scheduler", "single"))
	})
}

// NewThread 新线程调度器
func (r *Schedulers) NewThread() Scheduler {
	return r.getOrCreate(&r.newThread, func() Scheduler {
		return NewNewThreadScheduler(r.log.With("scheduler", "newthread"))
	})
}

// Trampoline 蹦床调度器
func (r *Schedulers) Trampoline() Scheduler {
	return r.getOrCreate(&r.trampoline, func() Scheduler {
		return NewTrampolineScheduler()
	})
}

// From 用外部执行器创建调度器，结果不由注册表管理
func (r *Schedulers) From(executor Executor) Scheduler {
	return NewExecutorScheduler(executor, r.log.With("scheduler", "executor"))
}

func (r *Schedulers) created() []Scheduler {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Scheduler
	for _, s := range []Scheduler{r.computation, r.io, r.single, r.newThread, r.trampoline} {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Shutdown 关闭所有已创建的调度器
func (r *Schedulers) Shutdown() {
	for _, s := range r.created() {
		s.Shutdown()
	}
}

// Start 重新启动所有已创建的调度器
func (r *Schedulers) Start() {
	for _, s := range r.created() {
		s.Start()
	}
}

type schedulersKey struct{}

// ContextWithSchedulers 把注册表放入上下文
func ContextWithSchedulers(ctx context.Context, r *Schedulers) context.Context {
	return context.WithValue(ctx, schedulersKey{}, r)
}

var (
	defaultSchedulersOnce sync.Once
	defaultSchedulers     *Schedulers
)

// SchedulersFromContext 从上下文读取注册表，没有时返回进程级默认注册表
func SchedulersFromContext(ctx context.Context) *Schedulers {
	if ctx != nil {
		if r, ok := ctx.Value(schedulersKey{}).(*Schedulers); ok && r != nil {
			return r
		}
	}
	defaultSchedulersOnce.Do(func() {
		defaultSchedulers = NewSchedulers(DefaultSchedulerConfig(), nil)
	})
	return defaultSchedulers
}
