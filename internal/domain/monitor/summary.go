package monitor

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/types"
)

// Series is the mean and 95th percentile of one resource
type Series struct {
	Mean float64 `json:"mean"`
	P95  float64 `json:"p95"`
	Max  float64 `json:"max"`
}

// SessionSummary describes one session's recent usage
type SessionSummary struct {
	SessionID  id.SessionID `json:"session_id"`
	AppName    string       `json:"app_name"`
	Samples    int          `json:"samples"`
	Last       types.Usage  `json:"last"`
	Memory     Series       `json:"memory_bytes"`
	CPU        Series       `json:"cpu_percent"`
	OverMemory bool         `json:"over_memory"`
	OverCPU    bool         `json:"over_cpu"`
}

// Summary is a snapshot of everything the monitor knows
type Summary struct {
	Sessions     []SessionSummary `json:"sessions"`
	Aggregate    types.Usage      `json:"aggregate"`
	OverMemory   bool             `json:"aggregate_over_memory"`
	OverCPU      bool             `json:"aggregate_over_cpu"`
	Sweeps       uint64           `json:"sweeps"`
	SampleErrors uint64           `json:"sample_errors"`
	LastSweep    *time.Time       `json:"last_sweep,omitempty"`
}

func summarize(sid id.SessionID, t *track) SessionSummary {
	mem := make([]float64, len(t.samples))
	cpu := make([]float64, len(t.samples))
	for i, u := range t.samples {
		mem[i] = float64(u.MemoryBytes)
		cpu[i] = u.CPUPercent
	}

	return SessionSummary{
		SessionID:  sid,
		AppName:    t.appName,
		Samples:    len(t.samples),
		Last:       t.last(),
		Memory:     series(mem),
		CPU:        series(cpu),
		OverMemory: t.memOver,
		OverCPU:    t.cpuOver,
	}
}

func series(xs []float64) Series {
	if len(xs) == 0 {
		return Series{}
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)

	return Series{
		Mean: stat.Mean(xs, nil),
		P95:  stat.Quantile(0.95, stat.Empirical, sorted, nil),
		Max:  sorted[len(sorted)-1],
	}
}
