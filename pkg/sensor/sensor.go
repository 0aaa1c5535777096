package sensor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"formflow/pkg/store"
	"formflow/pkg/telemetry"
)

// Snapshot is a lightweight view of process and store resources. Fields are
// best-effort and may be zero when the store is not open.
type Snapshot struct {
	Timestamp time.Time

	// Memory in bytes
	HeapUsed  uint64
	HeapTotal uint64

	// On-disk size of the session store in bytes
	StoreDisk uint64

	Goroutines int
}

// Sensor polls process and store resources, exposes a current Snapshot and
// publishes the values as Prometheus gauges.
type Sensor struct {
	mu       sync.RWMutex
	snap     Snapshot
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSensor creates a sensor that polls every interval.
func NewSensor(interval time.Duration) *Sensor {
	s := &Sensor{interval: interval}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start begins background polling. Call Stop to terminate.
func (s *Sensor) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		// warm initial sample
		s.sample()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.sample()
			}
		}
	}()
}

// Stop stops background polling and waits for the worker to exit.
func (s *Sensor) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Snapshot returns the most recent snapshot (fast, copy).
func (s *Sensor) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// sample collects best-effort metrics, updates the current snapshot and the
// exported gauges.
func (s *Sensor) sample() {
	snap := Snapshot{
		Timestamp:  time.Now(),
		Goroutines: runtime.NumGoroutine(),
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	snap.HeapUsed = memStats.Alloc
	snap.HeapTotal = memStats.Sys

	snap.StoreDisk = store.DiskUsage()

	telemetry.HeapBytes.Set(float64(snap.HeapUsed))
	telemetry.StoreDiskBytes.Set(float64(snap.StoreDisk))

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}
