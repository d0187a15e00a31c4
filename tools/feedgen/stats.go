package main

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Stats tracks published events
type Stats struct {
	ops    [4]atomic.Uint64
	errors [4]atomic.Uint64
	start  time.Time
}

// NewStats creates a new stats tracker
func NewStats() *Stats {
	return &Stats{start: time.Now()}
}

// RecordOp records a published event
func (s *Stats) RecordOp(op OpType) {
	s.ops[op].Add(1)
}

// RecordError records a failed publish
func (s *Stats) RecordError(op OpType) {
	s.errors[op].Add(1)
}

// Total returns the number of published events
func (s *Stats) Total() uint64 {
	var n uint64
	for i := range s.ops {
		n += s.ops[i].Load()
	}
	return n
}

// Report prints a summary
func (s *Stats) Report() {
	elapsed := time.Since(s.start)
	total := s.Total()

	fmt.Println("\n=== feedgen summary ===")
	for op := OpInsert; op <= OpDelete; op++ {
		fmt.Printf("  %-8s %8d ok  %6d failed\n", op, s.ops[op].Load(), s.errors[op].Load())
	}
	fmt.Printf("  elapsed  %s\n", elapsed.Round(time.Millisecond))
	if elapsed > 0 {
		fmt.Printf("  rate     %.1f events/s\n", float64(total)/elapsed.Seconds())
	}
}
