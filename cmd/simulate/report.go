package main

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// callStats counts the outcomes and latencies of one kind of API call.
type callStats struct {
	mu        sync.Mutex
	ok        int
	conflicts int
	failures  int
	latencies []time.Duration
}

// record files a call as ok, as a 409 the state machines are expected to
// produce under contention, or as a failure.
func (c *callStats) record(latency time.Duration, ok, conflict bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case ok:
		c.ok++
	case conflict:
		c.conflicts++
	default:
		c.failures++
	}
	c.latencies = append(c.latencies, latency)
}

func (c *callStats) percentile(sorted []time.Duration, p int) time.Duration {
	return sorted[min(len(sorted)*p/100, len(sorted)-1)]
}

func (c *callStats) print(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.ok + c.conflicts + c.failures
	if total == 0 {
		return
	}

	sorted := slices.Clone(c.latencies)
	slices.Sort(sorted)
	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	share := func(n int) float64 { return float64(n) / float64(total) * 100 }

	fmt.Printf("%s:\n", name)
	fmt.Printf("  calls=%d ok=%d (%.1f%%)", total, c.ok, share(c.ok))
	if c.conflicts > 0 {
		fmt.Printf(" conflicts=%d (%.1f%%)", c.conflicts, share(c.conflicts))
	}
	if c.failures > 0 {
		fmt.Printf(" failures=%d (%.1f%%)", c.failures, share(c.failures))
	}
	fmt.Println()
	fmt.Printf("  latency avg=%s p50=%s p95=%s max=%s\n\n",
		(sum / time.Duration(len(sorted))).Round(time.Millisecond),
		c.percentile(sorted, 50).Round(time.Millisecond),
		c.percentile(sorted, 95).Round(time.Millisecond),
		sorted[len(sorted)-1].Round(time.Millisecond))
}

// loadStats groups the call stats of one simulation run.
type loadStats struct {
	start         callStats
	messages      callStats
	ends          callStats
	prescriptions callStats
	bookings      callStats
}

func (s *Simulator) printReport() {
	rule := strings.Repeat("=", 80)
	fmt.Println("\n" + rule)
	fmt.Println("CONSULTATION LOAD REPORT")
	fmt.Println(rule)
	fmt.Printf("duration=%s workers=%d\n\n", s.config.Duration, s.config.Workers)

	s.load.start.print("Start consultation")
	s.load.messages.print("Post message")
	s.load.ends.print("End consultation")
	s.load.prescriptions.print("Create prescription")
	s.load.bookings.print("Request appointment")
}
