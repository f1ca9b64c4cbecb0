// Package worker keeps the hazard feed cache warm in the background.
package worker

import (
	"time"
)

// WarmTarget is one crowd area scope to keep warm. An empty Areas list
// means the crowd client's configured defaults, the same scope the request
// path reads when no areas are named.
type WarmTarget struct {
	Name  string
	Areas []string
}

// WarmConfig holds configuration for the cache warm job.
type WarmConfig struct {
	// Targets are the crowd scopes to warm.
	// If empty, uses DefaultWarmTargets.
	Targets []WarmTarget

	// Interval is the time between scheduled runs.
	// Default: 1 minute
	Interval time.Duration

	// Concurrency is the number of crowd targets warmed at once.
	// Default: 2
	Concurrency int

	// Timeout bounds each feed fetch and write.
	// Default: 30 seconds
	Timeout time.Duration

	// WarmIncidents enables incident warming.
	// Default: true
	WarmIncidents bool

	// WarmCrowd enables crowd warming.
	// Default: true
	WarmCrowd bool
}

// DefaultWarmConfig returns the default warm configuration.
func DefaultWarmConfig() WarmConfig {
	return WarmConfig{
		Targets:       DefaultWarmTargets(),
		Interval:      time.Minute,
		Concurrency:   2,
		Timeout:       30 * time.Second,
		WarmIncidents: true,
		WarmCrowd:     true,
	}
}

// DefaultWarmTargets returns the configured default crowd scope only.
func DefaultWarmTargets() []WarmTarget {
	return []WarmTarget{{Name: "default"}}
}

// TargetsFromAreas builds one target per area list, keeping the default
// scope first.
func TargetsFromAreas(groups ...[]string) []WarmTarget {
	targets := DefaultWarmTargets()
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		name := g[0]
		if len(g) > 1 {
			name += "+"
		}
		targets = append(targets, WarmTarget{Name: name, Areas: g})
	}
	return targets
}

func (c WarmConfig) withDefaults() WarmConfig {
	if len(c.Targets) == 0 {
		c.Targets = DefaultWarmTargets()
	}
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}
