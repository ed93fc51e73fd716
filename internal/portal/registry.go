package portal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/civicportal/internal/metrics"
	"github.com/hitoshi/civicportal/internal/storage"
)

// RegistryConfig はRegistryの設定を保持する。
type RegistryConfig struct {
	IdleTTL       time.Duration // 最終アクセスからRuntimeを破棄するまでの時間
	SweepInterval time.Duration // 期限切れRuntimeの掃除間隔
	InitTimeout   time.Duration // バックグラウンド初期検証全体の上限時間
}

// DefaultRegistryConfig はデフォルトのRegistry設定を返す。
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		IdleTTL:       30 * time.Minute,
		SweepInterval: 5 * time.Minute,
		InitTimeout:   20 * time.Second,
	}
}

// entry はRuntimeと最終アクセス時刻を保持する。
type entry struct {
	runtime    *Runtime
	lastAccess time.Time
}

// Registry は端末IDごとのRuntimeを管理する。
type Registry struct {
	kv      storage.KV
	deps    Deps
	config  RegistryConfig
	metrics metrics.MetricsCollector
	now     func() time.Time

	mu       sync.RWMutex
	runtimes map[string]*entry

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRegistry は新しいRegistryを生成する。
// バックグラウンドで期限切れRuntimeの掃除を開始する。
func NewRegistry(kv storage.KV, deps Deps, config RegistryConfig) *Registry {
	m := deps.Metrics
	if m == nil {
		m = metrics.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	reg := &Registry{
		kv:       kv,
		deps:     deps,
		config:   config,
		metrics:  m,
		now:      time.Now,
		runtimes: make(map[string]*entry),
		stopCh:   make(chan struct{}),
	}

	if config.SweepInterval > 0 {
		go reg.sweepLoop()
	}

	return reg
}

// Get は端末IDに対応するRuntimeを返す。
// 初回アクセス時は端末の名前空間でRuntimeを生成し、初期検証をバックグラウンドで開始する。
func (reg *Registry) Get(deviceID string) *Runtime {
	now := reg.now()

	reg.mu.RLock()
	e, exists := reg.runtimes[deviceID]
	reg.mu.RUnlock()

	if exists {
		reg.mu.Lock()
		e.lastAccess = now
		reg.mu.Unlock()
		return e.runtime
	}

	reg.mu.Lock()
	// ダブルチェック
	if e, exists := reg.runtimes[deviceID]; exists {
		e.lastAccess = now
		reg.mu.Unlock()
		return e.runtime
	}

	rt := NewRuntime(deviceID, storage.Namespace(reg.kv, storage.DevicePrefix(deviceID)), reg.deps)
	resolve := rt.begin()
	reg.runtimes[deviceID] = &entry{runtime: rt, lastAccess: now}
	count := len(reg.runtimes)
	reg.mu.Unlock()

	reg.metrics.SetActiveRuntimes(count)
	go reg.initRuntime(rt, resolve)

	return rt
}

func (reg *Registry) initRuntime(rt *Runtime, resolve func(ctx context.Context)) {
	ctx := context.Background()
	if reg.config.InitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, reg.config.InitTimeout)
		defer cancel()
	}
	resolve(ctx)
	reg.deps.Logger.Debug("device runtime resolved", slog.String("device_id", rt.DeviceID))
}

// Len は現在保持しているRuntime数を返す。
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.runtimes)
}

// Sweep は最終アクセスからIdleTTLを超えたRuntimeを破棄し、破棄した数を返す。
func (reg *Registry) Sweep(now time.Time) int {
	var expired []*Runtime

	reg.mu.Lock()
	for id, e := range reg.runtimes {
		if now.Sub(e.lastAccess) > reg.config.IdleTTL {
			expired = append(expired, e.runtime)
			delete(reg.runtimes, id)
		}
	}
	count := len(reg.runtimes)
	reg.mu.Unlock()

	for _, rt := range expired {
		rt.Dispose()
	}
	reg.metrics.SetActiveRuntimes(count)

	if len(expired) > 0 {
		reg.deps.Logger.Info("idle device runtimes disposed",
			slog.Int("disposed", len(expired)),
			slog.Int("active", count),
		)
	}
	return len(expired)
}

// Stop は掃除ループを停止し、全Runtimeを破棄する。複数回呼んでもよい。
func (reg *Registry) Stop() {
	reg.stopOnce.Do(func() {
		close(reg.stopCh)

		reg.mu.Lock()
		runtimes := reg.runtimes
		reg.runtimes = make(map[string]*entry)
		reg.mu.Unlock()

		for _, e := range runtimes {
			e.runtime.Dispose()
		}
		reg.metrics.SetActiveRuntimes(0)
	})
}

// sweepLoop はバックグラウンドで期限切れRuntimeを定期的に掃除する。
func (reg *Registry) sweepLoop() {
	ticker := time.NewTicker(reg.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			reg.Sweep(reg.now())
		case <-reg.stopCh:
			return
		}
	}
}
