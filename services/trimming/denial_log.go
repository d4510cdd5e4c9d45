// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package trimming

import "sync"

// DenialRecord is the only artifact a denial leaves behind. It carries
// the denied id, the coarse reason, and the permission that would have
// admitted the item. Titles, content, owner identities, and viewer
// lists must never appear here, even serialized.
type DenialRecord struct {
	ID                 string       `json:"id"`
	Reason             DenialReason `json:"reason"`
	RequiredPermission string       `json:"requiredPermission"`
}

// denialLog is a concurrency-safe ring buffer of denial records. The
// capacity is fixed at construction; once full, the oldest record is
// evicted. This bounds memory under adversarial query volume.
type denialLog struct {
	mu      sync.Mutex
	records []DenialRecord
	next    int
	full    bool
}

func newDenialLog(capacity int) *denialLog {
	if capacity <= 0 {
		capacity = 1
	}
	return &denialLog{records: make([]DenialRecord, capacity)}
}

func (l *denialLog) record(r DenialRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[l.next] = r
	l.next++
	if l.next == len(l.records) {
		l.next = 0
		l.full = true
	}
}

// snapshot returns the logged records oldest first.
func (l *denialLog) snapshot() []DenialRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		out := make([]DenialRecord, l.next)
		copy(out, l.records[:l.next])
		return out
	}
	out := make([]DenialRecord, 0, len(l.records))
	out = append(out, l.records[l.next:]...)
	out = append(out, l.records[:l.next]...)
	return out
}

func (l *denialLog) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return len(l.records)
	}
	return l.next
}
