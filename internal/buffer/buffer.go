// Package buffer accumulates matches and rule errors in memory, grouped by
// rule/log-type/dedup/error-ness, until a caller flushes them to the object
// store. It replays the original engine's MatchedEventsBuffer sizing and
// eviction policy in the idiom of the teacher's BatchLogProcessor buffer.
package buffer

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/panther-labs/rules-engine/pkg/models"
)

// MaxBytesInMemory is the ceiling on the buffer's total estimated size
// before the largest group is evicted (flushed) to make room, mirroring
// _MAX_BYTES_IN_MEMORY from the original engine.
const MaxBytesInMemory = 100_000_000

// FlushFunc is called with one group's accumulated events whenever the
// buffer evicts or is explicitly flushed.
type FlushFunc func(models.BufferEntry) error

// Buffer groups EngineResults by OutputGroupingKey and evicts the largest
// group when the estimated total size crosses MaxBytesInMemory.
type Buffer struct {
	mu       sync.Mutex
	groups   map[models.OutputGroupingKey]*models.BufferEntry
	size     int
	maxBytes int
	flush    FlushFunc
}

// New builds an empty Buffer. maxBytes <= 0 selects MaxBytesInMemory.
func New(maxBytes int, flush FlushFunc) *Buffer {
	if maxBytes <= 0 {
		maxBytes = MaxBytesInMemory
	}
	return &Buffer{
		groups:   make(map[models.OutputGroupingKey]*models.BufferEntry),
		maxBytes: maxBytes,
		flush:    flush,
	}
}

// Add appends one EngineResult to its group, creating the group if this is
// its first member, then evicts groups until the buffer is back under the
// byte ceiling.
func (b *Buffer) Add(result models.EngineResult) error {
	isError := result.Result.IsError()
	key := models.OutputGroupingKey{
		RuleID:  result.Result.RuleID,
		LogType: result.LogType,
		Dedup:   result.Result.DedupOutput,
		IsError: isError,
	}

	encoded, err := json.Marshal(result.Event)
	if err != nil {
		return err
	}

	b.mu.Lock()
	entry, ok := b.groups[key]
	if !ok {
		entry = &models.BufferEntry{
			Key:                key,
			VersionID:          result.Result.VersionID,
			DedupPeriodMinutes: result.Result.DedupPeriodMinutes,
			Tags:               result.Result.Tags,
			Reports:            result.Result.Reports,
			Title:              result.Result.TitleOutput,
			AlertContext:       result.Result.AlertContextOutput,
		}
		if isError {
			entry.RuleError = ruleErrorMessage(result.Result)
		}
		b.groups[key] = entry
	}
	entry.Events = append(entry.Events, result.Event)
	entry.ByteSize += len(encoded)
	b.size += len(encoded)
	b.mu.Unlock()

	return b.evictUntilUnderLimit()
}

// ruleErrorMessage picks the first-observed error text for a group of rule
// errors, preferring the rule's own error over the generic compile/runtime
// wrapper it's usually equal to.
func ruleErrorMessage(r models.RuleResult) string {
	if r.RuleError != nil {
		return r.RuleError.Error()
	}
	if r.GenericError != nil {
		return r.GenericError.Error()
	}
	return ""
}

// evictUntilUnderLimit flushes the single largest group repeatedly until
// total size is back under the ceiling, the same largest-first eviction
// the original engine used rather than evicting oldest-first.
func (b *Buffer) evictUntilUnderLimit() error {
	for {
		b.mu.Lock()
		if b.size <= b.maxBytes || len(b.groups) == 0 {
			b.mu.Unlock()
			return nil
		}
		var largestKey models.OutputGroupingKey
		var largest *models.BufferEntry
		for k, v := range b.groups {
			if largest == nil || v.ByteSize > largest.ByteSize {
				largestKey = k
				largest = v
			}
		}
		delete(b.groups, largestKey)
		b.size -= largest.ByteSize
		b.mu.Unlock()

		if err := b.flush(*largest); err != nil {
			return err
		}
	}
}

// Flush drains every remaining group, in a deterministic order so tests
// and logs stay stable, and calls FlushFunc on each.
func (b *Buffer) Flush() error {
	b.mu.Lock()
	keys := make([]models.OutputGroupingKey, 0, len(b.groups))
	for k := range b.groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		if a.Dedup != b.Dedup {
			return a.Dedup < b.Dedup
		}
		if a.LogType != b.LogType {
			return a.LogType < b.LogType
		}
		return !a.IsError && b.IsError
	})
	entries := make([]models.BufferEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, *b.groups[k])
		delete(b.groups, k)
	}
	b.size = 0
	b.mu.Unlock()

	for _, e := range entries {
		if err := b.flush(e); err != nil {
			return err
		}
	}
	return nil
}

// Size reports the current estimated byte size of all buffered groups.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// GroupCount reports how many distinct groups are currently buffered.
func (b *Buffer) GroupCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.groups)
}
