package langpack

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/usalama/sentinel/moderation/keyword"
)

type compiledEntry struct {
	entry   Entry
	pattern *regexp.Regexp
}

// Matcher is one language pack compiled for the request path.
type Matcher struct {
	Language    string
	PackVersion string

	entries      []compiledEntry
	replacements [][2]string
}

// NewMatcher compiles a pack's lexicon and normalization. Replacement rules
// are applied in sorted source order so normalization is deterministic.
func NewMatcher(language, packVersion string, normalization *Normalization, lexicon *Lexicon) *Matcher {
	m := &Matcher{
		Language:    strings.ToLower(strings.TrimSpace(language)),
		PackVersion: packVersion,
	}

	sources := make([]string, 0, len(normalization.Replacements))
	for source := range normalization.Replacements {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	for _, source := range sources {
		sourceKey := strings.ToLower(strings.TrimSpace(source))
		if sourceKey == "" {
			continue
		}
		target := strings.ToLower(strings.TrimSpace(normalization.Replacements[source]))
		m.replacements = append(m.replacements, [2]string{sourceKey, target})
	}

	for _, entry := range lexicon.Entries {
		pattern := keyword.CompileTermPattern(entry.Term)
		if pattern == nil {
			continue
		}
		m.entries = append(m.entries, compiledEntry{entry: entry, pattern: pattern})
	}
	return m
}

func (m *Matcher) normalize(text string) string {
	normalized := keyword.Normalize(text)
	for _, pair := range m.replacements {
		normalized = strings.ReplaceAll(normalized, pair[0], pair[1])
	}
	return normalized
}

// Match returns the pack entries whose terms occur in text, in lexicon
// order. Entries with labels outside the known taxonomy are skipped.
func (m *Matcher) Match(text string) []Entry {
	normalized := m.normalize(text)
	var matches []Entry
	for _, ce := range m.entries {
		if !KnownLabels[ce.entry.Label] {
			continue
		}
		if ce.pattern.MatchString(normalized) {
			matches = append(matches, ce.entry)
		}
	}
	return matches
}

// Outcome is a pack-only decision, used by the evaluation harness to score
// a pack in isolation from the rest of the pipeline.
type Outcome struct {
	Action string
	Labels []string
}

// Moderate renders the pack's standalone decision for text: BLOCK if any
// BLOCK entry matched, else REVIEW if any REVIEW entry matched, else ALLOW
// with the benign label. Labels are deduplicated and sorted.
func (m *Matcher) Moderate(text string) Outcome {
	var blockLabels, reviewLabels []string
	for _, entry := range m.Match(text) {
		if entry.Action == "BLOCK" {
			blockLabels = append(blockLabels, entry.Label)
		} else {
			reviewLabels = append(reviewLabels, entry.Label)
		}
	}
	if len(blockLabels) > 0 {
		return Outcome{Action: "BLOCK", Labels: sortedSet(blockLabels)}
	}
	if len(reviewLabels) > 0 {
		return Outcome{Action: "REVIEW", Labels: sortedSet(reviewLabels)}
	}
	return Outcome{Action: "ALLOW", Labels: []string{BenignLabel}}
}

func sortedSet(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	out := make([]string, 0, len(labels))
	for _, label := range labels {
		if seen[label] {
			continue
		}
		seen[label] = true
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// MatcherSet loads and caches compiled matchers for every registered pack,
// in priority order. Loading is fail-open: a missing or invalid registry
// yields zero matchers with a warning, never an error on the request path.
type MatcherSet struct {
	RegistryPath string
	Logger       *slog.Logger

	// SkipGates disables the calibration gate check during loading,
	// serving every pack with valid artifacts. Diagnostics only; a pack
	// that misses its gates must never decide live traffic.
	SkipGates bool

	mu     sync.Mutex
	sf     singleflight.Group
	cached []*Matcher
	loaded bool
}

func NewMatcherSet(registryPath string, logger *slog.Logger) *MatcherSet {
	if logger == nil {
		logger = slog.Default()
	}
	return &MatcherSet{
		RegistryPath: registryPath,
		Logger:       logger,
	}
}

// Matchers returns the compiled pack matchers, loading them on first use.
func (s *MatcherSet) Matchers(ctx context.Context) []*Matcher {
	s.mu.Lock()
	if s.loaded {
		cached := s.cached
		s.mu.Unlock()
		return cached
	}
	s.mu.Unlock()

	v, _, _ := s.sf.Do("load", func() (interface{}, error) {
		matchers := s.load(ctx)
		s.mu.Lock()
		s.cached = matchers
		s.loaded = true
		s.mu.Unlock()
		return matchers, nil
	})
	return v.([]*Matcher)
}

// Reset drops the cached matchers so the next call reloads from disk.
func (s *MatcherSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
	s.loaded = false
}

func (s *MatcherSet) load(ctx context.Context) []*Matcher {
	if s.RegistryPath == "" {
		return nil
	}
	registry, err := LoadRegistry(s.RegistryPath)
	if err != nil {
		s.Logger.Warn("language pack registry unavailable, continuing without packs",
			"registryPath", s.RegistryPath, "err", err)
		return nil
	}

	var matchers []*Matcher
	for _, manifest := range registry.PacksInPriorityOrder() {
		manifest := manifest
		normalization, lexicon, _, err := registry.LoadArtifacts(&manifest)
		if err != nil {
			s.Logger.Warn("skipping language pack with invalid artifacts",
				"lang", manifest.Language, "packVersion", manifest.PackVersion, "err", err)
			continue
		}
		if !s.SkipGates {
			result, err := EvaluateGates(registry, &manifest)
			if err != nil {
				s.Logger.Warn("skipping language pack, gate evaluation failed",
					"lang", manifest.Language, "packVersion", manifest.PackVersion, "err", err)
				continue
			}
			if !result.Passed {
				s.Logger.Warn("skipping language pack, calibration gates not met",
					"lang", manifest.Language, "packVersion", manifest.PackVersion,
					"gateFailures", result.GateFailures)
				continue
			}
		}
		matchers = append(matchers, NewMatcher(manifest.Language, manifest.PackVersion, normalization, lexicon))
	}
	return matchers
}
