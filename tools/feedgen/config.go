package main

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	// Connection
	NatsURL       string
	SubjectPrefix string

	// Optional store mirror, so refetches see the generated rows
	Driver string
	DSN    string

	// Workload
	Lists    string
	Actors   string
	Events   int
	Duration time.Duration
	Rate     int // Events per second, 0 = unthrottled
	Seed     int64

	// Percentages
	InsertPct int
	CheckPct  int
	UpdatePct int
	DeletePct int

	// Derived
	listIDs  []string
	actorIDs []string
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.NatsURL == "" {
		return fmt.Errorf("nats url cannot be empty")
	}
	if c.SubjectPrefix == "" {
		return fmt.Errorf("subject prefix cannot be empty")
	}

	c.listIDs = splitList(c.Lists)
	if len(c.listIDs) == 0 {
		return fmt.Errorf("at least one list id is required")
	}

	c.actorIDs = splitList(c.Actors)
	if len(c.actorIDs) == 0 {
		return fmt.Errorf("at least one actor is required")
	}

	if c.Events < 0 {
		return fmt.Errorf("events must be non-negative")
	}
	if c.Rate < 0 {
		return fmt.Errorf("rate must be non-negative")
	}

	for name, pct := range map[string]int{
		"insert": c.InsertPct,
		"check":  c.CheckPct,
		"update": c.UpdatePct,
		"delete": c.DeletePct,
	} {
		if pct < 0 || pct > 100 {
			return fmt.Errorf("%s percentage must be between 0 and 100", name)
		}
	}

	if total := c.InsertPct + c.CheckPct + c.UpdatePct + c.DeletePct; total != 100 {
		return fmt.Errorf("percentages must sum to 100, got %d", total)
	}

	if (c.Driver == "") != (c.DSN == "") {
		return fmt.Errorf("driver and dsn must be set together")
	}

	return nil
}
