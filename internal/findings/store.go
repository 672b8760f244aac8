package findings

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Store provides in-memory storage and querying of pattern matches with JSONL persistence.
type Store struct {
	mu      sync.RWMutex
	matches []PatternMatch

	// Indexes for fast lookups
	byPattern map[string][]int // pattern type -> indices into matches
	byFile    map[string][]int // file -> indices into matches
	byScale   map[Scale][]int  // scale -> indices into matches
}

// NewStore creates an empty match store.
func NewStore() *Store {
	return &Store{
		byPattern: make(map[string][]int),
		byFile:    make(map[string][]int),
		byScale:   make(map[Scale][]int),
	}
}

// Add adds matches to the store.
func (s *Store) Add(mm ...PatternMatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range mm {
		idx := len(s.matches)
		s.matches = append(s.matches, m)
		s.byPattern[m.PatternType] = append(s.byPattern[m.PatternType], idx)
		if m.FilePath != "" {
			s.byFile[m.FilePath] = append(s.byFile[m.FilePath], idx)
		}
		if m.Scale != "" {
			s.byScale[m.Scale] = append(s.byScale[m.Scale], idx)
		}
	}
}

// Count returns the number of matches in the store.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matches)
}

// QueryOpts filters matches. Empty values match everything.
type QueryOpts struct {
	PatternType  string
	File         string
	FilePrefix   string
	Scale        Scale
	MinAmplitude float64
	Limit        int
	Offset       int
}

// Query returns matches satisfying every filter along with the total count
// before offset/limit are applied.
func (s *Store) Query(opts QueryOpts) ([]PatternMatch, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []PatternMatch
	for _, idx := range s.candidates(opts) {
		m := s.matches[idx]
		if opts.PatternType != "" && m.PatternType != opts.PatternType {
			continue
		}
		if opts.File != "" && m.FilePath != opts.File {
			continue
		}
		if opts.FilePrefix != "" && !strings.HasPrefix(m.FilePath, opts.FilePrefix) {
			continue
		}
		if opts.Scale != "" && m.Scale != opts.Scale {
			continue
		}
		if m.Amplitude < opts.MinAmplitude {
			continue
		}
		matched = append(matched, m)
	}

	total := len(matched)

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, total
		}
		matched = matched[opts.Offset:]
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, total
}

// Clear removes all matches from the store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches = nil
	s.byPattern = make(map[string][]int)
	s.byFile = make(map[string][]int)
	s.byScale = make(map[Scale][]int)
}

// WriteJSONL writes all matches as JSONL to the given writer.
func (s *Store) WriteJSONL(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, m := range s.matches {
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("encoding match %s:%d: %w", m.FilePath, m.LineNumber, err)
		}
	}
	return nil
}

// ReadJSONL reads matches from a JSONL reader and adds them to the store.
func (s *Store) ReadJSONL(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	// Allow large lines
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m PatternMatch
		if err := json.Unmarshal(line, &m); err != nil {
			return fmt.Errorf("decoding match: %w", err)
		}
		s.Add(m)
	}
	return scanner.Err()
}

// ReadJSONLFile reads matches from a JSONL file and adds them to the store.
func (s *Store) ReadJSONLFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return s.ReadJSONL(f)
}

// candidates returns the indices to filter for opts: the smallest index among
// the equality filters, or every match when none is set. Indices ascend, so
// results keep insertion order.
func (s *Store) candidates(opts QueryOpts) []int {
	var best []int
	found := false
	consider := func(idx []int, set bool) {
		if set && (!found || len(idx) < len(best)) {
			best, found = idx, true
		}
	}
	consider(s.byPattern[opts.PatternType], opts.PatternType != "")
	consider(s.byFile[opts.File], opts.File != "")
	consider(s.byScale[opts.Scale], opts.Scale != "")
	if found {
		return best
	}
	all := make([]int, len(s.matches))
	for i := range all {
		all[i] = i
	}
	return all
}
