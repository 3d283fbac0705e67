// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package position

import (
	"iter"
	"maps"
	"slices"
	"time"
)

// DefaultTTL is how long a position stays visible without a refresh.
const DefaultTTL = 600 * time.Second

// Store keeps the latest Record per callsign.
//
// Expired entries are only removed while Fresh is enumerating them; there is
// no background sweep. Store is not safe for concurrent use, the owner
// serializes access.
type Store struct {
	entries map[string]Stored
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[string]Stored)}
}

// Upsert replaces whatever is stored for rec.Callsign.
func (s *Store) Upsert(rec Record, now time.Time) {
	s.entries[rec.Callsign] = Stored{Record: rec, Updated: now}
}

// Get returns the entry for callsign regardless of its age.
func (s *Store) Get(callsign string) (Stored, bool) {
	st, ok := s.entries[callsign]
	return st, ok
}

// Len returns the number of entries, expired ones included.
func (s *Store) Len() int {
	return len(s.entries)
}

// Fresh yields every entry whose age at now is at most ttl, in callsign
// order. Entries older than ttl that the enumeration reaches are deleted.
// Each call to the returned sequence takes a new snapshot of the keys.
func (s *Store) Fresh(now time.Time, ttl time.Duration) iter.Seq[Stored] {
	return func(yield func(Stored) bool) {
		for _, key := range slices.Sorted(maps.Keys(s.entries)) {
			st, ok := s.entries[key]
			if !ok {
				continue
			}
			if st.Age(now) > ttl {
				delete(s.entries, key)
				continue
			}
			if !yield(st) {
				return
			}
		}
	}
}

// Peek returns the entries Fresh would yield without deleting anything.
func (s *Store) Peek(now time.Time, ttl time.Duration) []Stored {
	out := make([]Stored, 0, len(s.entries))
	for _, key := range slices.Sorted(maps.Keys(s.entries)) {
		st := s.entries[key]
		if st.Age(now) <= ttl {
			out = append(out, st)
		}
	}
	return out
}
