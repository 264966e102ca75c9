package queue

import (
	"context"
	"fmt"
	"time"
)

// codeWidth is the zero-padded width of the numeric part of a queue code.
const codeWidth = 3

// SequenceAllocator hands out collision-free ticket numbers per
// (resource, date) key. Next must be linearizable across concurrent callers
// sharing a key: for N concurrent calls the returned numbers are exactly
// 1..N with no duplicates and no gaps.
type SequenceAllocator interface {
	// Next atomically increments the counter for the key, creating it at
	// zero first if the key has never been seen.
	Next(ctx context.Context, resourceID string, date time.Time) (int, error)
	// Current returns the last allocated number, 0 if none. Read-only.
	Current(ctx context.Context, resourceID string, date time.Time) (int, error)
	// Reset sets the counter back to zero. Administrative only: codes
	// already issued are not invalidated, so numbers handed out after a
	// reset duplicate earlier codes for the same day. Callers must gate
	// this behind an admin-only surface.
	Reset(ctx context.Context, resourceID string, date time.Time) error
}

// PrefixTable resolves the human-readable code prefix for a resource from a
// static lookup table, falling back to a default for unknown resources.
type PrefixTable struct {
	prefixes map[string]string
	fallback string
}

// NewPrefixTable builds a table from resource-to-prefix overrides. An empty
// fallback defaults to "Q".
func NewPrefixTable(prefixes map[string]string, fallback string) *PrefixTable {
	if fallback == "" {
		fallback = "Q"
	}
	table := &PrefixTable{prefixes: make(map[string]string, len(prefixes)), fallback: fallback}
	for resource, prefix := range prefixes {
		table.prefixes[resource] = prefix
	}
	return table
}

// Resolve returns the prefix for a resource.
func (t *PrefixTable) Resolve(resourceID string) string {
	if p, ok := t.prefixes[resourceID]; ok {
		return p
	}
	return t.fallback
}

// FormatCode renders a queue code: prefix plus the zero-padded number.
func FormatCode(prefix string, number int) string {
	return fmt.Sprintf("%s%0*d", prefix, codeWidth, number)
}
