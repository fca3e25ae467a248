//go:build unit

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRuleResult_IsError(t *testing.T) {
	t.Run("generic error counts as errored", func(t *testing.T) {
		r := RuleResult{GenericError: assert.AnError}
		assert.True(t, r.IsError())
	})

	t.Run("rule error counts as errored", func(t *testing.T) {
		r := RuleResult{RuleError: assert.AnError}
		assert.True(t, r.IsError())
	})

	t.Run("title or dedup error alone does not count", func(t *testing.T) {
		r := RuleResult{TitleError: assert.AnError}
		assert.False(t, r.IsError())
		d := RuleResult{DedupError: assert.AnError}
		assert.False(t, d.IsError())
	})

	t.Run("clean result is not errored", func(t *testing.T) {
		r := RuleResult{Matched: true, RuleOutput: true}
		assert.False(t, r.IsError())
	})
}

func TestOutputGroupingKey_Equality(t *testing.T) {
	a := OutputGroupingKey{RuleID: "r1", LogType: "AWS.S3", Dedup: "d1"}
	b := OutputGroupingKey{RuleID: "r1", LogType: "AWS.S3", Dedup: "d1"}
	c := OutputGroupingKey{RuleID: "r1", LogType: "AWS.S3", Dedup: "d2"}

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestAlertInfo_Fields(t *testing.T) {
	now := time.Now()
	info := AlertInfo{
		AlertID:      "rule-1-1",
		CreationTime: now,
		UpdateTime:   now,
		EventCount:   3,
		IsNewAlert:   true,
	}

	assert.Equal(t, "rule-1-1", info.AlertID)
	assert.Equal(t, int64(3), info.EventCount)
	assert.True(t, info.IsNewAlert)
}
