// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package cache

import (
	"sync"
	"time"

	"github.com/mia-platform/tallysync/internal/sysmem"
)

// MemoryProbe reports the fraction of system memory in use by the process.
type MemoryProbe interface {
	Utilization() float64
}

// ProbeFunc adapts a function to MemoryProbe.
type ProbeFunc func() float64

func (f ProbeFunc) Utilization() float64 {
	return f()
}

// SampledProbe caches the sysmem reading for interval, since reading the
// runtime memory statistics briefly stops the world.
type SampledProbe struct {
	interval time.Duration
	read     func() float64

	lock    sync.Mutex
	sampled time.Time
	value   float64
}

func NewSampledProbe(interval time.Duration) *SampledProbe {
	return &SampledProbe{
		interval: interval,
		read:     sysmem.Utilization,
	}
}

func (p *SampledProbe) Utilization() float64 {
	p.lock.Lock()
	defer p.lock.Unlock()

	if now := time.Now(); p.sampled.IsZero() || now.Sub(p.sampled) >= p.interval {
		p.value = p.read()
		p.sampled = now
	}
	return p.value
}
