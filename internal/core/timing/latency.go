package timing

import (
	"math"
	"sync/atomic"
)

// Stage identifies a pipeline segment for latency accounting.
type Stage uint8

const (
	StageIngress Stage = iota
	StageRisk
	StageMatch
	StageFanout
	StageBook
	stageCount
)

func (s Stage) String() string {
	switch s {
	case StageIngress:
		return "ingress"
	case StageRisk:
		return "risk"
	case StageMatch:
		return "match"
	case StageFanout:
		return "fanout"
	case StageBook:
		return "book"
	default:
		return "unknown"
	}
}

type stageBucket struct {
	count atomic.Uint64
	sum   atomic.Uint64
	min   atomic.Uint64
	max   atomic.Uint64
}

// StageStats is a point-in-time latency summary for one stage.
type StageStats struct {
	Stage   Stage
	Count   uint64
	TotalNs uint64
	MinNs   uint64
	MaxNs   uint64
	AvgNs   uint64
}

// Recorder accumulates per-stage latencies with atomics only; safe for
// concurrent use from every worker.
type Recorder struct {
	stages [stageCount]stageBucket
}

// NewRecorder returns a recorder with empty buckets.
func NewRecorder() *Recorder {
	r := &Recorder{}
	for i := range r.stages {
		r.stages[i].min.Store(math.MaxUint64)
	}
	return r
}

// Record accounts one sample measured between two clock readings. Inverted
// intervals are discarded.
func (r *Recorder) Record(s Stage, startNs, endNs uint64) {
	if s >= stageCount || endNs < startNs {
		return
	}
	d := endNs - startNs
	b := &r.stages[s]
	b.count.Add(1)
	b.sum.Add(d)
	for {
		cur := b.min.Load()
		if d >= cur || b.min.CompareAndSwap(cur, d) {
			break
		}
	}
	for {
		cur := b.max.Load()
		if d <= cur || b.max.CompareAndSwap(cur, d) {
			break
		}
	}
}

// Snapshot copies every stage's counters. Stages with no samples report zero
// min/max.
func (r *Recorder) Snapshot() []StageStats {
	out := make([]StageStats, 0, stageCount)
	for i := range r.stages {
		b := &r.stages[i]
		st := StageStats{
			Stage:   Stage(i),
			Count:   b.count.Load(),
			TotalNs: b.sum.Load(),
			MaxNs:   b.max.Load(),
		}
		if st.Count > 0 {
			st.MinNs = b.min.Load()
			st.AvgNs = st.TotalNs / st.Count
		}
		out = append(out, st)
	}
	return out
}
