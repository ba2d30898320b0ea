package telemetry

import (
	"context"
	"sync"
	"time"
)

// StatsProvider is polled for the session gauges
type StatsProvider interface {
	CachedRelations() int
	InTransaction() bool
}

// MetricsCollector copies session state into RelationCacheSize and
// TransactionOpen on a fixed interval. The session is only safe to read
// through its atomic accessors, which is all the collector uses.
type MetricsCollector struct {
	provider StatsProvider
	interval time.Duration
	cancel   context.CancelFunc
	done     sync.WaitGroup
	stopOnce sync.Once
}

func NewMetricsCollector(provider StatsProvider, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		provider: provider,
		interval: interval,
		cancel:   func() {},
	}
}

// Start polls once immediately and then every interval until Stop.
func (mc *MetricsCollector) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	mc.cancel = cancel
	mc.done.Add(1)
	go func() {
		defer mc.done.Done()
		mc.run(ctx)
	}()
}

// Stop ends polling and waits for the loop to exit. Safe to call twice.
func (mc *MetricsCollector) Stop() {
	mc.stopOnce.Do(func() {
		mc.cancel()
		mc.done.Wait()
	})
}

func (mc *MetricsCollector) run(ctx context.Context) {
	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	for {
		mc.collect()
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.provider == nil {
		return
	}

	RelationCacheSize.Set(float64(mc.provider.CachedRelations()))
	open := 0.0
	if mc.provider.InTransaction() {
		open = 1
	}
	TransactionOpen.Set(open)
}
