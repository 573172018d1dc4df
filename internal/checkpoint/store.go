// Package checkpoint persists per-target extraction results so an
// interrupted crawl can resume without re-fetching processed targets.
//
// The whole checkpoint is one JSON object mapping target id to a
// result, or to null for targets that were processed and intentionally
// recorded without data (the sentinel that prevents retry-forever).
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/codigosgratis/wikisync/internal/extract"
)

// Store is an in-memory id→result map with durable full-file flushes.
// It is not safe for concurrent use: the coordinator is its only
// caller, even when fetches run in parallel.
type Store struct {
	path    string
	logger  *zap.Logger
	entries map[string]*extract.Result
	dirty   bool
}

// New returns an empty store backed by path. Call Load before use.
func New(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		path:    path,
		logger:  logger,
		entries: make(map[string]*extract.Result),
	}
}

// Load reads the persisted checkpoint. A missing file starts an empty
// run; a corrupt file is logged and treated as empty rather than
// failing the run.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read checkpoint %s: %w", s.path, err)
	}

	entries := make(map[string]*extract.Result)
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("checkpoint unreadable, starting empty",
			zap.String("path", s.path),
			zap.Error(err),
		)
		return nil
	}
	s.entries = entries
	s.logger.Info("checkpoint loaded",
		zap.String("path", s.path),
		zap.Int("entries", len(entries)),
	)
	return nil
}

// Has reports whether id was already processed, including sentinel
// entries. It is the resumption gate: the coordinator never re-fetches
// an id for which Has is true.
func (s *Store) Has(id string) bool {
	_, ok := s.entries[id]
	return ok
}

// Get returns the recorded result for id. A stored sentinel yields
// (nil, true).
func (s *Store) Get(id string) (*extract.Result, bool) {
	r, ok := s.entries[id]
	return r, ok
}

// Set records the result for id. Pass nil to record the sentinel.
func (s *Store) Set(id string, result *extract.Result) {
	s.entries[id] = result
	s.dirty = true
}

// Len returns the number of recorded entries.
func (s *Store) Len() int {
	return len(s.entries)
}

// Entries returns the underlying map for artifact assembly. Callers
// must not mutate it.
func (s *Store) Entries() map[string]*extract.Result {
	return s.entries
}

// Flush rewrites the whole checkpoint atomically: the payload lands in
// a temp file first and replaces the checkpoint by rename, so a crash
// mid-write never leaves a half-written file readable as valid.
func (s *Store) Flush() error {
	if !s.dirty {
		return nil
	}

	payload, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create checkpoint dir %s: %w", dir, err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write checkpoint temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace checkpoint %s: %w", s.path, err)
	}

	s.dirty = false
	s.logger.Debug("checkpoint flushed",
		zap.String("path", s.path),
		zap.Int("entries", len(s.entries)),
	)
	return nil
}
