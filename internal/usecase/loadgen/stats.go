package loadgen

import (
	"sync/atomic"
	"time"
)

// Op names one HTTP operation issued by the generator.
type Op string

const (
	OpCreate Op = "create"
	OpRead   Op = "read"
	OpDelete Op = "delete"
)

type opCounters struct {
	total        atomic.Uint64
	successful   atomic.Uint64
	latencyNanos atomic.Uint64
}

// Stats accumulates request outcomes. It belongs to one Runner; all methods
// are safe for concurrent use.
type Stats struct {
	create opCounters
	read   opCounters
	delete opCounters
}

func (s *Stats) counters(op Op) *opCounters {
	switch op {
	case OpCreate:
		return &s.create
	case OpDelete:
		return &s.delete
	default:
		return &s.read
	}
}

// Record adds one finished request.
func (s *Stats) Record(op Op, ok bool, latency time.Duration) {
	c := s.counters(op)
	c.total.Add(1)
	c.latencyNanos.Add(uint64(latency.Nanoseconds()))
	if ok {
		c.successful.Add(1)
	}
}

// OpSnapshot is the tally for one operation.
type OpSnapshot struct {
	Total        uint64  `toml:"total"`
	Successful   uint64  `toml:"successful"`
	AvgLatencyMs float64 `toml:"avg_latency_ms"`
}

// Snapshot is a consistent-enough view of Stats at one instant.
type Snapshot struct {
	Elapsed      time.Duration
	Total        uint64
	Successful   uint64
	AvgLatencyMs float64
	Throughput   float64
	Ops          map[Op]OpSnapshot
}

// Snapshot reads the counters. Throughput counts successful requests only.
func (s *Stats) Snapshot(elapsed time.Duration) Snapshot {
	snap := Snapshot{Elapsed: elapsed, Ops: make(map[Op]OpSnapshot, 3)}

	var latency uint64
	for _, op := range []Op{OpCreate, OpRead, OpDelete} {
		c := s.counters(op)
		total := c.total.Load()
		successful := c.successful.Load()
		nanos := c.latencyNanos.Load()

		snap.Total += total
		snap.Successful += successful
		latency += nanos

		if total > 0 {
			snap.Ops[op] = OpSnapshot{
				Total:        total,
				Successful:   successful,
				AvgLatencyMs: float64(nanos) / float64(total) / 1e6,
			}
		}
	}

	if snap.Total > 0 {
		snap.AvgLatencyMs = float64(latency) / float64(snap.Total) / 1e6
	}
	if secs := elapsed.Seconds(); secs > 0 {
		snap.Throughput = float64(snap.Successful) / secs
	}
	return snap
}
