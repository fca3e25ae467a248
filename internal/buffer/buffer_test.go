//go:build unit

package buffer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panther-labs/rules-engine/internal/buffer"
	"github.com/panther-labs/rules-engine/pkg/models"
)

func result(ruleID, dedup string) models.EngineResult {
	return models.EngineResult{
		Event:   models.LogEvent{"message": "hi"},
		LogType: "AWS.CloudTrail",
		Result:  models.RuleResult{RuleID: ruleID, DedupOutput: dedup, Matched: true},
	}
}

func TestBuffer_GroupsByKey(t *testing.T) {
	var flushed []models.BufferEntry
	b := buffer.New(0, func(e models.BufferEntry) error {
		flushed = append(flushed, e)
		return nil
	})

	require.NoError(t, b.Add(result("r1", "d1")))
	require.NoError(t, b.Add(result("r1", "d1")))
	require.NoError(t, b.Add(result("r1", "d2")))

	assert.Equal(t, 2, b.GroupCount())
	require.NoError(t, b.Flush())
	assert.Len(t, flushed, 2)
}

func TestBuffer_CoalescesAcrossVersionIDChange(t *testing.T) {
	var flushed []models.BufferEntry
	b := buffer.New(0, func(e models.BufferEntry) error {
		flushed = append(flushed, e)
		return nil
	})

	first := result("r1", "d1")
	first.Result.VersionID = "v1"
	second := result("r1", "d1")
	second.Result.VersionID = "v2"

	require.NoError(t, b.Add(first))
	require.NoError(t, b.Add(second))

	assert.Equal(t, 1, b.GroupCount())
	require.NoError(t, b.Flush())
	require.Len(t, flushed, 1)
	assert.Equal(t, "v1", flushed[0].VersionID)
	assert.Len(t, flushed[0].Events, 2)
}

func TestBuffer_EvictsLargestGroupOverLimit(t *testing.T) {
	var flushedKeys []string
	b := buffer.New(10, func(e models.BufferEntry) error {
		flushedKeys = append(flushedKeys, e.Key.RuleID)
		return nil
	})

	require.NoError(t, b.Add(result("r1", "d1")))
	require.NotEmpty(t, flushedKeys)
}

func TestBuffer_FlushDrainsEverything(t *testing.T) {
	count := 0
	b := buffer.New(0, func(e models.BufferEntry) error {
		count++
		return nil
	})

	require.NoError(t, b.Add(result("r1", "d1")))
	require.NoError(t, b.Add(result("r2", "d2")))
	require.NoError(t, b.Flush())

	assert.Equal(t, 2, count)
	assert.Equal(t, 0, b.GroupCount())
	assert.Equal(t, 0, b.Size())
}
