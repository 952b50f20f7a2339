package orchestrator

import (
	"time"

	"github.com/michaelpento.lv/cyclearb/config"
)

// Backoff returns the pause after the n-th consecutive failed cycle:
// base doubled per failure after the first, capped at the maximum.
func Backoff(cfg config.CircuitBreakerConfig, n int) time.Duration {
	if n <= 0 {
		return 0
	}
	d := cfg.BaseBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if d >= cfg.MaxBackoff {
			return cfg.MaxBackoff
		}
	}
	return min(d, cfg.MaxBackoff)
}

// NextDelay adapts the inter-cycle delay to the opportunity rate of the run.
// A busy market slows the cadence; a quiet one speeds it up once enough cycles
// have been observed.
func NextDelay(cfg config.OrchestratorConfig, current time.Duration, stats Stats) time.Duration {
	rate := stats.OpportunityRate()
	next := current
	switch {
	case rate > cfg.HighOpportunityRate:
		next = time.Duration(float64(current) * cfg.IncreaseFactor)
	case rate < cfg.LowOpportunityRate && stats.Cycles >= cfg.MinScansForDecrease:
		next = time.Duration(float64(current) * cfg.DecreaseFactor)
	}
	return max(cfg.MinScanInterval, min(next, cfg.MaxScanInterval))
}
