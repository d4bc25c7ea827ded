// Package gc removes orphaned objects from a store.
//
// An object is orphaned when it lives under the collected prefix but no
// record references it. Orphans appear when a writer crashes between
// uploading a body and recording it, or when a deletion of a superseded
// version is interrupted.
//
// Objects younger than the grace period are never collected, so uploads in
// progress on other devices are left alone.
package gc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/marmos91/dittosafe/internal/logger"
	"github.com/marmos91/dittosafe/pkg/storage"
)

// Source reports which keys are still in use.
type Source interface {
	// Referenced returns the set of object keys that must be kept.
	Referenced(ctx context.Context) (map[string]struct{}, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (map[string]struct{}, error)

// Referenced implements Source.
func (f SourceFunc) Referenced(ctx context.Context) (map[string]struct{}, error) {
	return f(ctx)
}

// Collector sweeps a store prefix for orphaned objects.
//
// It can run once (RunNow) or periodically in the background (Start/Stop).
//
// Thread Safety: Safe for concurrent use.
type Collector struct {
	source Source
	store  storage.Store
	prefix string
	config Config

	runMu     sync.Mutex
	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	now       func() time.Time
}

// Config contains configuration for the collector.
type Config struct {
	// Interval is how often the background worker runs (0 disables it)
	Interval time.Duration `mapstructure:"interval"`

	// GracePeriod protects objects younger than this (default: 10m)
	GracePeriod time.Duration `mapstructure:"grace_period"`

	// BatchSize is how many orphans are deleted concurrently (default: 16)
	BatchSize int `mapstructure:"batch_size"`

	// DryRun logs what would be deleted without deleting
	DryRun bool `mapstructure:"dry_run"`
}

// NewCollector creates a collector for the objects under prefix.
//
// The collector is not started. Call Start() for background collection or
// RunNow() for a single sweep.
func NewCollector(source Source, store storage.Store, prefix string, config Config) *Collector {
	if config.GracePeriod <= 0 {
		config.GracePeriod = 10 * time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 16
	}

	return &Collector{
		source: source,
		store:  store,
		prefix: prefix,
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		now:    time.Now,
	}
}

// Start begins background collection. It is a no-op when Interval is 0 or
// when the collector is already running.
func (c *Collector) Start() {
	if c.config.Interval <= 0 {
		return
	}

	c.startOnce.Do(func() {
		logger.Debug("Starting garbage collector: prefix=%s interval=%s grace=%s dry_run=%v",
			c.prefix, c.config.Interval, c.config.GracePeriod, c.config.DryRun)
		c.started = true
		go c.worker()
	})
}

// Stop stops the background worker and waits for it to finish.
// Safe to call multiple times and on a collector that was never started.
func (c *Collector) Stop(ctx context.Context) error {
	if !c.started {
		return nil
	}

	c.stopOnce.Do(func() { close(c.stopCh) })

	select {
	case <-c.doneCh:
		return nil
	case <-ctx.Done():
		logger.Warn("Garbage collector shutdown timeout: prefix=%s", c.prefix)
		return ctx.Err()
	}
}

// RunNow performs one sweep and blocks until it completes.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	return c.collect(ctx)
}

func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			stats, err := c.collect(ctx)
			cancel()

			if err != nil {
				logger.Error("Garbage collection failed: prefix=%s error=%v", c.prefix, err)
			} else if stats.OrphanedCount > 0 {
				logger.Info("Garbage collection completed: prefix=%s %s", c.prefix, stats.Summary())
			}

		case <-c.stopCh:
			return
		}
	}
}

// collect performs a single sweep:
//  1. Get the referenced keys from the source
//  2. List the objects under the prefix
//  3. Orphans = listed - referenced, minus objects inside the grace period
//  4. Delete orphans in concurrent batches
func (c *Collector) collect(ctx context.Context) (*Stats, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	stats := &Stats{StartTime: c.now()}

	// Step 1: referenced keys. Listing happens after, so anything
	// referenced by the time we list was already referenced here or is
	// younger than the grace period.
	referenced, err := c.source.Referenced(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to get referenced objects: %w", err)
	}
	stats.ReferencedCount = uint64(len(referenced))

	// Step 2: existing objects
	existing, err := c.store.List(ctx, c.prefix)
	if err != nil {
		return stats, fmt.Errorf("failed to list objects: %w", err)
	}
	stats.ExistingCount = uint64(len(existing))

	// Step 3: orphans
	cutoff := stats.StartTime.Add(-c.config.GracePeriod)
	var orphaned []string
	for _, obj := range existing {
		if _, ok := referenced[obj.Key]; ok {
			continue
		}
		if obj.ModTime.After(cutoff) {
			stats.SkippedCount++
			continue
		}
		orphaned = append(orphaned, obj.Key)
	}
	stats.OrphanedCount = uint64(len(orphaned))

	if len(orphaned) == 0 {
		stats.EndTime = c.now()
		return stats, nil
	}

	if c.config.DryRun {
		logger.Info("GC: DRY RUN - would delete %d objects under %s", len(orphaned), c.prefix)
		for i, key := range orphaned {
			if i == 10 {
				logger.Info("  ... and %d more", len(orphaned)-10)
				break
			}
			logger.Info("  - %s", key)
		}
		stats.EndTime = c.now()
		return stats, nil
	}

	// Step 4: delete
	for i := 0; i < len(orphaned); i += c.config.BatchSize {
		if err := ctx.Err(); err != nil {
			stats.EndTime = c.now()
			return stats, err
		}

		end := min(i+c.config.BatchSize, len(orphaned))
		deleted, failed := c.deleteBatch(ctx, orphaned[i:end])
		stats.DeletedCount += deleted
		stats.FailedCount += failed
	}

	stats.EndTime = c.now()
	logger.Debug("GC: prefix=%s %s", c.prefix, stats.Summary())
	return stats, nil
}

func (c *Collector) deleteBatch(ctx context.Context, keys []string) (deleted, failed uint64) {
	results := make([]error, len(keys))

	p := pool.New().WithMaxGoroutines(len(keys))
	for i, key := range keys {
		p.Go(func() {
			results[i] = c.store.Delete(ctx, key)
		})
	}
	p.Wait()

	for i, err := range results {
		if err != nil {
			logger.Debug("GC: failed to delete %s: %v", keys[i], err)
			failed++
			continue
		}
		deleted++
	}
	return deleted, failed
}

// Stats contains statistics from a collection run.
type Stats struct {
	StartTime       time.Time // When collection started
	EndTime         time.Time // When collection ended
	ReferencedCount uint64    // Number of referenced keys
	ExistingCount   uint64    // Number of objects under the prefix
	SkippedCount    uint64    // Unreferenced objects inside the grace period
	OrphanedCount   uint64    // Number of orphaned objects found
	DeletedCount    uint64    // Number of orphans deleted
	FailedCount     uint64    // Number of orphans that failed to delete
}

// Duration returns the total collection duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the collection.
func (s *Stats) Summary() string {
	return fmt.Sprintf("referenced=%d existing=%d skipped=%d orphaned=%d deleted=%d failed=%d duration=%s",
		s.ReferencedCount, s.ExistingCount, s.SkippedCount, s.OrphanedCount,
		s.DeletedCount, s.FailedCount, s.Duration())
}
