package catalog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dejo1307/resonance/internal/findings"
)

// neutralPrior stands in for both the success penalty and the cascade score of
// a pattern that has no recorded outcomes.
const neutralPrior = 0.5

// PatternHistory is the learned outcome record of one pattern type.
type PatternHistory struct {
	DetectionCount      int       `json:"detection_count"`
	FixSuccessRate      float64   `json:"fix_success_rate"`
	AverageCascadeScore float64   `json:"average_cascade_score"`
	AffectedFiles       []string  `json:"affected_files,omitempty"`
	LastUpdated         time.Time `json:"last_updated"`
}

// HistoryStore persists pattern history between runs.
type HistoryStore interface {
	LoadHistory(ctx context.Context) (map[string]PatternHistory, error)
	SaveHistory(ctx context.Context, history map[string]PatternHistory) error
}

type historyEntry struct {
	count       int
	successRate float64
	cascade     float64
	files       map[string]struct{}
	updated     time.Time
}

func (h *historyEntry) snapshot() PatternHistory {
	files := make([]string, 0, len(h.files))
	for f := range h.files {
		files = append(files, f)
	}
	sort.Strings(files)
	return PatternHistory{
		DetectionCount:      h.count,
		FixSuccessRate:      h.successRate,
		AverageCascadeScore: h.cascade,
		AffectedFiles:       files,
		LastUpdated:         h.updated,
	}
}

// RecordOutcome folds one intervention outcome into the pattern's running means.
// The count and both means change under the same lock so readers never observe
// a count that disagrees with the rates.
func (c *Catalog) RecordOutcome(patternType string, success bool, cascadeScore float64, affectedFiles []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.history[patternType]
	if !ok {
		h = &historyEntry{files: make(map[string]struct{})}
		c.history[patternType] = h
	}

	x := 0.0
	if success {
		x = 1.0
	}
	n := float64(h.count + 1)
	h.successRate = findings.Clamp01(h.successRate + (x-h.successRate)/n)
	h.cascade = findings.Clamp01(h.cascade + (findings.Clamp01(cascadeScore)-h.cascade)/n)
	h.count++
	for _, f := range affectedFiles {
		if f != "" {
			h.files[f] = struct{}{}
		}
	}
	h.updated = time.Now().UTC()
}

// History returns a copy of the pattern's history, if any outcome was recorded.
func (c *Catalog) History(patternType string) (PatternHistory, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.history[patternType]
	if !ok {
		return PatternHistory{}, false
	}
	return h.snapshot(), true
}

// HistorySnapshot returns a copy of every pattern's history.
func (c *Catalog) HistorySnapshot() map[string]PatternHistory {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]PatternHistory, len(c.history))
	for k, h := range c.history {
		out[k] = h.snapshot()
	}
	return out
}

// HistoricalMultiplier scales planner confidence by past fix success. Patterns
// without recorded outcomes get 1.0.
func (c *Catalog) HistoricalMultiplier(patternType string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.history[patternType]
	if !ok || h.count == 0 {
		return 1.0
	}
	return h.successRate
}

// Priority ranks a pattern type:
//
//	sevWeight*frequency_weight*0.4 + (1-fix_success_rate)*0.3 + avg_cascade*0.3
//
// Without history the success penalty and cascade both take the neutral 0.5.
// Unknown pattern types have priority 0.
func (c *Catalog) Priority(patternType string) float64 {
	sig, ok := c.byType[patternType]
	if !ok {
		return 0
	}

	penalty, cascade := neutralPrior, neutralPrior
	c.mu.Lock()
	if h, ok := c.history[patternType]; ok && h.count > 0 {
		penalty = 1 - h.successRate
		cascade = h.cascade
	}
	c.mu.Unlock()

	base := sig.Severity.Weight() * sig.FrequencyWeight
	return findings.Clamp01(base*0.4 + penalty*0.3 + cascade*0.3)
}

// RankedPattern pairs a pattern type with its current priority.
type RankedPattern struct {
	PatternType string   `json:"pattern_type"`
	Name        string   `json:"name"`
	Severity    Severity `json:"severity"`
	Priority    float64  `json:"priority"`
}

// TopPatterns returns the n highest-priority patterns, ties broken by catalog
// order. n <= 0 returns every pattern.
func (c *Catalog) TopPatterns(n int) []RankedPattern {
	ranked := make([]RankedPattern, len(c.signatures))
	for i, s := range c.signatures {
		ranked[i] = RankedPattern{
			PatternType: s.Type,
			Name:        s.Name,
			Severity:    s.Severity,
			Priority:    c.Priority(s.Type),
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Priority > ranked[j].Priority
	})
	if n > 0 && n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}

// LoadHistory replaces the in-memory history with the store's contents.
func (c *Catalog) LoadHistory(ctx context.Context, store HistoryStore) error {
	loaded, err := store.LoadHistory(ctx)
	if err != nil {
		return fmt.Errorf("loading pattern history: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = make(map[string]*historyEntry, len(loaded))
	for k, ph := range loaded {
		h := &historyEntry{
			count:       ph.DetectionCount,
			successRate: findings.Clamp01(ph.FixSuccessRate),
			cascade:     findings.Clamp01(ph.AverageCascadeScore),
			files:       make(map[string]struct{}, len(ph.AffectedFiles)),
			updated:     ph.LastUpdated,
		}
		if h.count < 0 {
			h.count = 0
		}
		for _, f := range ph.AffectedFiles {
			h.files[f] = struct{}{}
		}
		c.history[k] = h
	}
	return nil
}

// SaveHistory writes the current history to the store.
func (c *Catalog) SaveHistory(ctx context.Context, store HistoryStore) error {
	if err := store.SaveHistory(ctx, c.HistorySnapshot()); err != nil {
		return fmt.Errorf("saving pattern history: %w", err)
	}
	return nil
}
