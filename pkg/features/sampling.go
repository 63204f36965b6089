// Package features provides the volume-control and scrubbing stages of the
// logging pipeline: rate-limited sampling with burst control and message
// deduplication, and recursive redaction of sensitive content.
package features

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"
)

const (
	// dedupeWindow is the span during which repeated identical messages are
	// aggregated instead of delivered individually.
	dedupeWindow = 5 * time.Second
	// dedupeEmitEvery forces an aggregated emission once the repeat count
	// reaches a multiple of this value inside the window.
	dedupeEmitEvery = 10
	// dedupeMaxEntries caps the dedupe cache; stale entries are evicted once
	// the cache grows past it.
	dedupeMaxEntries = 1000
	// burstWindow is the rolling window for burst limiting.
	burstWindow = time.Second
)

// SamplingRule configures sampling for a module name or module-name prefix.
type SamplingRule struct {
	// Rate is the pass probability in [0,1].
	Rate float64
	// MinInterval, when positive, is the minimum spacing between emissions
	// for the same (module, level) key.
	MinInterval time.Duration
	// BurstLimit, when positive, caps emissions per rolling one-second window.
	BurstLimit int
}

// DedupeResult reports the outcome of a dedupe check.
type DedupeResult struct {
	// Allow is true when the entry should be delivered.
	Allow bool
	// Count is the number of occurrences the delivered entry represents.
	// It is 1 for a fresh message and >1 for an aggregated emission.
	Count int
}

type dedupeEntry struct {
	count     int
	firstSeen time.Time
	lastSeen  time.Time
}

type burstState struct {
	windowStart time.Time
	count       int
}

// Sampler decides whether a log call proceeds and aggregates bursts of
// identical messages. Entries at or above the bypass level always pass.
type Sampler struct {
	mu          sync.Mutex
	rules       map[string]SamplingRule
	prefixes    []string // rule keys sorted longest-first for prefix matching
	defaultRule SamplingRule
	bypassLevel int

	lastEmit map[string]time.Time
	bursts   map[string]*burstState
	dedupe   map[string]*dedupeEntry

	// injectable for tests
	now     func() time.Time
	randGen func() float64
}

// NewSampler creates a sampler. Levels at or above bypassLevel are never
// sampled away. The default rule passes everything.
func NewSampler(rules map[string]SamplingRule, bypassLevel int) *Sampler {
	s := &Sampler{
		defaultRule: SamplingRule{Rate: 1.0},
		bypassLevel: bypassLevel,
		lastEmit:    make(map[string]time.Time),
		bursts:      make(map[string]*burstState),
		dedupe:      make(map[string]*dedupeEntry),
		now:         time.Now,
		randGen:     rand.Float64,
	}
	s.setRulesLocked(rules)
	return s
}

// SetRules replaces the sampling configuration at runtime. Last writer wins.
func (s *Sampler) SetRules(rules map[string]SamplingRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setRulesLocked(rules)
}

func (s *Sampler) setRulesLocked(rules map[string]SamplingRule) {
	s.rules = make(map[string]SamplingRule, len(rules))
	s.prefixes = s.prefixes[:0]
	for k, r := range rules {
		if r.Rate < 0 {
			r.Rate = 0
		} else if r.Rate > 1 {
			r.Rate = 1
		}
		s.rules[k] = r
		s.prefixes = append(s.prefixes, k)
	}
	// Longest prefix wins when several could match; ties resolve
	// lexicographically so resolution is deterministic.
	sort.Slice(s.prefixes, func(i, j int) bool {
		if len(s.prefixes[i]) != len(s.prefixes[j]) {
			return len(s.prefixes[i]) > len(s.prefixes[j])
		}
		return s.prefixes[i] < s.prefixes[j]
	})
}

// resolveLocked finds the rule for a module: exact match, else longest
// matching prefix, else the default.
func (s *Sampler) resolveLocked(module string) SamplingRule {
	if r, ok := s.rules[module]; ok {
		return r
	}
	for _, p := range s.prefixes {
		if len(p) < len(module) && module[:len(p)] == p {
			return s.rules[p]
		}
	}
	return s.defaultRule
}

// ShouldLog decides whether an entry at the given module and level proceeds.
// Levels at or above the bypass level pass unconditionally.
func (s *Sampler) ShouldLog(module string, level int) bool {
	if level >= s.bypassLevel {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rule := s.resolveLocked(module)
	now := s.now()
	key := fmt.Sprintf("%s|%d", module, level)

	if rule.MinInterval > 0 {
		if last, ok := s.lastEmit[key]; ok && now.Sub(last) < rule.MinInterval {
			return false
		}
		s.lastEmit[key] = now
	}

	if rule.BurstLimit > 0 {
		b := s.bursts[key]
		if b == nil || now.Sub(b.windowStart) >= burstWindow {
			b = &burstState{windowStart: now}
			s.bursts[key] = b
		}
		if b.count >= rule.BurstLimit {
			return false
		}
		b.count++
	}

	if rule.Rate >= 1.0 {
		return true
	}
	return s.randGen() < rule.Rate
}

// CheckDedupe aggregates bursts of identical (module, level, message)
// triples. The first occurrence in a window is delivered; repeats are
// suppressed until the count hits a multiple of ten or five seconds have
// elapsed since the first occurrence, at which point one aggregated entry
// carrying the accumulated count is released and the window resets.
func (s *Sampler) CheckDedupe(module string, level int, message string) DedupeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := fmt.Sprintf("%s|%d|%s", module, level, message)

	e, ok := s.dedupe[key]
	if !ok || now.Sub(e.lastSeen) > dedupeWindow {
		s.dedupe[key] = &dedupeEntry{count: 1, firstSeen: now, lastSeen: now}
		s.evictStaleLocked(now)
		return DedupeResult{Allow: true, Count: 1}
	}

	e.count++
	e.lastSeen = now

	if e.count%dedupeEmitEvery == 0 || now.Sub(e.firstSeen) >= dedupeWindow {
		count := e.count
		delete(s.dedupe, key)
		return DedupeResult{Allow: true, Count: count}
	}
	return DedupeResult{Allow: false, Count: e.count}
}

// evictStaleLocked drops entries outside the window once the cache exceeds
// its size cap.
func (s *Sampler) evictStaleLocked(now time.Time) {
	if len(s.dedupe) <= dedupeMaxEntries {
		return
	}
	for k, e := range s.dedupe {
		if now.Sub(e.lastSeen) > dedupeWindow {
			delete(s.dedupe, k)
		}
	}
}

// Reset clears all sampler state (emission timestamps, burst windows and the
// dedupe cache) while keeping the configured rules.
func (s *Sampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastEmit = make(map[string]time.Time)
	s.bursts = make(map[string]*burstState)
	s.dedupe = make(map[string]*dedupeEntry)
}
