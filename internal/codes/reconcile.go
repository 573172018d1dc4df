// Package codes merges freshly scraped promo-code observations with
// previously persisted state. Everything here is pure: the caller owns
// all I/O.
package codes

import (
	"sort"
	"strings"
)

// Entry is one redeemable code and its reward text.
type Entry struct {
	Code   string `json:"code"`
	Reward string `json:"reward"`
}

// State partitions a game's codes into disjoint active and expired
// sets. Comparison is case-insensitive on Code.
type State struct {
	Active  []Entry `json:"active"`
	Expired []Entry `json:"expired"`
}

// Reconcile merges observed against prev and returns the new partition
// plus whether anything changed.
//
// The freshly observed active set is authoritative: previously active
// codes that vanished from it are demoted to expired. The expired set
// is the first-occurrence-wins union of demoted entries, observed
// expired entries, and previously expired entries, minus anything
// active — active status always wins.
func Reconcile(prev, observed State) (State, bool) {
	newActive := dedupe(observed.Active)

	activeSet := make(map[string]struct{}, len(newActive))
	for _, e := range newActive {
		activeSet[key(e.Code)] = struct{}{}
	}

	var demoted []Entry
	for _, e := range prev.Active {
		if _, ok := activeSet[key(e.Code)]; !ok {
			demoted = append(demoted, e)
		}
	}

	merged := make([]Entry, 0, len(demoted)+len(observed.Expired)+len(prev.Expired))
	merged = append(merged, demoted...)
	merged = append(merged, observed.Expired...)
	merged = append(merged, prev.Expired...)

	newExpired := make([]Entry, 0, len(merged))
	for _, e := range dedupe(merged) {
		if _, ok := activeSet[key(e.Code)]; ok {
			continue
		}
		newExpired = append(newExpired, e)
	}

	next := State{Active: newActive, Expired: newExpired}
	return next, changed(prev, next)
}

// changed reports whether the new state differs from prev: identical
// case-insensitive active code sets plus an unchanged expired count
// mean the crawl observed nothing new.
func changed(prev, next State) bool {
	if len(next.Expired) != len(prev.Expired) {
		return true
	}
	prevCodes := sortedCodes(prev.Active)
	nextCodes := sortedCodes(next.Active)
	if len(prevCodes) != len(nextCodes) {
		return true
	}
	for i := range prevCodes {
		if prevCodes[i] != nextCodes[i] {
			return true
		}
	}
	return false
}

func sortedCodes(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, key(e.Code))
	}
	sort.Strings(out)
	return out
}

// dedupe removes case-insensitive duplicate codes, keeping the first
// occurrence.
func dedupe(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		k := key(e.Code)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

func key(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
