// Package crawl drives resumable fetch/extract/store cycles over an
// ordered target list, with pacing, periodic checkpointing, and an
// optional bounded-concurrency batch mode.
package crawl

import (
	"encoding/json"
	"fmt"
	"os"
)

// Target is one unit of crawl work: a page title, URL slug, or page
// number. Targets are immutable once loaded.
type Target struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Locator string `json:"locator"`
}

// LoadTargets reads an ordered JSON array of targets and enforces
// unique non-empty ids.
func LoadTargets(path string) ([]Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets %s: %w", path, err)
	}

	var targets []Target
	if err := json.Unmarshal(data, &targets); err != nil {
		return nil, fmt.Errorf("parse targets %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(targets))
	for i, t := range targets {
		if t.ID == "" {
			return nil, fmt.Errorf("target %d has empty id", i)
		}
		if _, dup := seen[t.ID]; dup {
			return nil, fmt.Errorf("duplicate target id %q", t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return targets, nil
}
