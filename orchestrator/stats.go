package orchestrator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/michaelpento.lv/cyclearb/types"
)

// Stats is the running record exposed to operators and the dashboard board.
type Stats struct {
	State             string                     `json:"state"`
	StartedAt         time.Time                  `json:"started_at"`
	Cycles            uint64                     `json:"cycles"`
	PathsScanned      uint64                     `json:"paths_scanned"`
	Opportunities     uint64                     `json:"opportunities"`
	Attempts          uint64                     `json:"attempts"`
	Successes         uint64                     `json:"successes"`
	DryRuns           uint64                     `json:"dry_runs"`
	Failures          map[string]uint64          `json:"failures"`
	RealizedProfit    map[string]decimal.Decimal `json:"realized_profit"`
	AssetCycles       map[string]uint64          `json:"asset_cycles"`
	GateRejections    map[string]uint64          `json:"gate_rejections"`
	Errors            uint64                     `json:"errors"`
	ConsecutiveErrors int                        `json:"consecutive_errors"`
	CurrentDelay      time.Duration              `json:"current_delay"`
	LastError         string                     `json:"last_error,omitempty"`
}

func newStats() Stats {
	return Stats{
		State:          Idle.String(),
		Failures:       make(map[string]uint64),
		RealizedProfit: make(map[string]decimal.Decimal),
		AssetCycles:    make(map[string]uint64),
		GateRejections: make(map[string]uint64),
	}
}

// OpportunityRate is opportunities found per completed cycle.
func (s Stats) OpportunityRate() float64 {
	if s.Cycles == 0 {
		return 0
	}
	return float64(s.Opportunities) / float64(s.Cycles)
}

func (s *Stats) recordExecution(r *types.ExecutionResult) {
	if r == nil {
		return
	}
	switch {
	case r.DryRun:
		s.DryRuns++
		return
	case r.Success:
		s.Attempts++
		s.Successes++
		s.RealizedProfit[r.Asset] = s.RealizedProfit[r.Asset].Add(r.RealizedProfit)
	case r.Reason != types.FailureNone:
		s.Attempts++
		s.Failures[string(r.Reason)]++
	}
}

func (s Stats) clone() Stats {
	out := s
	out.Failures = copyMap(s.Failures)
	out.RealizedProfit = copyMap(s.RealizedProfit)
	out.AssetCycles = copyMap(s.AssetCycles)
	out.GateRejections = copyMap(s.GateRejections)
	return out
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
