package lessons

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync/atomic"

	"github.com/vanguar/german-morning-bot/pkg/models"
)

type curriculum map[string][]models.Lesson

// Store owns the curriculum: a mapping from level label to its ordered
// lesson sequence, loaded from a JSON document. Readers always see a
// complete snapshot; Reload swaps it atomically.
type Store struct {
	path     string
	snapshot atomic.Pointer[curriculum]
}

// NewStore creates an empty store backed by the given document path
func NewStore(path string) *Store {
	s := &Store{path: path}
	empty := curriculum{}
	s.snapshot.Store(&empty)
	return s
}

// Load parses the curriculum document. On a missing or malformed file
// the store degrades to an empty curriculum and the error is returned
// for logging; the process keeps running either way.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.storeEmpty()
		return fmt.Errorf("failed to read lessons file: %w", err)
	}
	var parsed curriculum
	if err := json.Unmarshal(data, &parsed); err != nil {
		s.storeEmpty()
		return fmt.Errorf("failed to parse lessons file: %w", err)
	}
	if parsed == nil {
		parsed = curriculum{}
	}
	s.snapshot.Store(&parsed)
	return nil
}

// Reload re-reads the document, atomically replacing the mapping
func (s *Store) Reload() error {
	return s.Load()
}

func (s *Store) storeEmpty() {
	empty := curriculum{}
	s.snapshot.Store(&empty)
}

func (s *Store) current() curriculum {
	return *s.snapshot.Load()
}

// Total returns the lesson count for the level, 0 for unknown levels
func (s *Store) Total(level string) int {
	return len(s.current()[level])
}

// LessonAt returns the lesson at index within the level's sequence
func (s *Store) LessonAt(level string, index int) (models.Lesson, bool) {
	seq := s.current()[level]
	if index < 0 || index >= len(seq) {
		return models.Lesson{}, false
	}
	return seq[index], true
}

// Sequence returns the full ordered lesson sequence for the level.
// The returned slice belongs to the current snapshot and must not be
// modified.
func (s *Store) Sequence(level string) []models.Lesson {
	return s.current()[level]
}

// Levels returns all known level labels in sorted order
func (s *Store) Levels() []string {
	cur := s.current()
	levels := make([]string, 0, len(cur))
	for level := range cur {
		levels = append(levels, level)
	}
	sort.Strings(levels)
	return levels
}

// OtherLevel returns the first level different from the given one, or
// "" when the curriculum holds no alternative.
func (s *Store) OtherLevel(level string) string {
	for _, l := range s.Levels() {
		if l != level {
			return l
		}
	}
	return ""
}
