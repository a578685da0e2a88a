package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/matterhub/sync-engine/internal/monitor"
)

// HealthCheck runs three independent probes: database reachability, a
// cache round-trip, and the engine's own active flag. The overall state is
// healthy when every probe passes, degraded when some warn, unhealthy when
// any fail.
func (e *Engine) HealthCheck(ctx context.Context) *monitor.HealthStatus {
	probes := []monitor.ProbeResult{
		e.probeDatabase(ctx),
		e.probeCache(ctx),
		e.probeEngine(),
	}

	state := monitor.HealthStateHealthy
	for _, probe := range probes {
		switch probe.State {
		case monitor.HealthStateUnhealthy:
			state = monitor.HealthStateUnhealthy
		case monitor.HealthStateDegraded:
			if state == monitor.HealthStateHealthy {
				state = monitor.HealthStateDegraded
			}
		}
	}

	return &monitor.HealthStatus{
		State:     state,
		Probes:    probes,
		CheckedAt: time.Now(),
	}
}

func (e *Engine) probeDatabase(ctx context.Context) monitor.ProbeResult {
	start := time.Now()

	if e.pinger == nil {
		return monitor.ProbeResult{
			Name:    "database",
			State:   monitor.HealthStateDegraded,
			Latency: time.Since(start),
			Message: "no database configured",
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := e.pinger.PingContext(pingCtx); err != nil {
		return monitor.ProbeResult{
			Name:    "database",
			State:   monitor.HealthStateUnhealthy,
			Latency: time.Since(start),
			Message: err.Error(),
		}
	}

	return monitor.ProbeResult{
		Name:    "database",
		State:   monitor.HealthStateHealthy,
		Latency: time.Since(start),
	}
}

func (e *Engine) probeCache(ctx context.Context) monitor.ProbeResult {
	start := time.Now()
	key := "health:" + uuid.New().String()

	if err := e.cache.Set(ctx, key, "ping", time.Minute); err != nil {
		return monitor.ProbeResult{
			Name:    "cache",
			State:   monitor.HealthStateUnhealthy,
			Latency: time.Since(start),
			Message: fmt.Sprintf("cache write failed: %v", err),
		}
	}
	_, hit, err := e.cache.Get(ctx, key)
	_ = e.cache.Delete(ctx, key)
	if err != nil || !hit {
		return monitor.ProbeResult{
			Name:    "cache",
			State:   monitor.HealthStateUnhealthy,
			Latency: time.Since(start),
			Message: "cache round-trip failed",
		}
	}

	return monitor.ProbeResult{
		Name:    "cache",
		State:   monitor.HealthStateHealthy,
		Latency: time.Since(start),
	}
}

func (e *Engine) probeEngine() monitor.ProbeResult {
	start := time.Now()

	e.mu.RLock()
	active := e.active
	e.mu.RUnlock()

	if !active {
		return monitor.ProbeResult{
			Name:    "engine",
			State:   monitor.HealthStateUnhealthy,
			Latency: time.Since(start),
			Message: "engine has been shut down",
		}
	}
	return monitor.ProbeResult{
		Name:    "engine",
		State:   monitor.HealthStateHealthy,
		Latency: time.Since(start),
	}
}
