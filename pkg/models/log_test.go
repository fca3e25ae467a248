//go:build unit

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvelopeRecord_LogType(t *testing.T) {
	t.Run("returns the id message attribute", func(t *testing.T) {
		r := EnvelopeRecord{MessageAttributes: map[string]EnvelopeAttribute{
			"id": {StringValue: "AWS.CloudTrail"},
		}}
		assert.Equal(t, "AWS.CloudTrail", r.LogType())
	})

	t.Run("empty when absent", func(t *testing.T) {
		r := EnvelopeRecord{}
		assert.Equal(t, "", r.LogType())
	})
}

func TestLogEvent_RowIndex(t *testing.T) {
	t.Run("accepts int64", func(t *testing.T) {
		e := LogEvent{"p_row_index": int64(42)}
		assert.Equal(t, int64(42), e.RowIndex())
	})

	t.Run("accepts float64 from JSON decode", func(t *testing.T) {
		e := LogEvent{"p_row_index": float64(7)}
		assert.Equal(t, int64(7), e.RowIndex())
	})

	t.Run("zero when absent", func(t *testing.T) {
		e := LogEvent{}
		assert.Equal(t, int64(0), e.RowIndex())
	})
}

func TestIsDirectTest(t *testing.T) {
	t.Run("batch envelope is not a direct test", func(t *testing.T) {
		raw := map[string]interface{}{"Records": []interface{}{}}
		assert.False(t, IsDirectTest(raw))
	})

	t.Run("rules plus events is a direct test", func(t *testing.T) {
		raw := map[string]interface{}{
			"rules":  []interface{}{map[string]interface{}{"id": "r1"}},
			"events": []interface{}{},
		}
		assert.True(t, IsDirectTest(raw))
	})

	t.Run("rules without events is not a direct test", func(t *testing.T) {
		raw := map[string]interface{}{"rules": []interface{}{map[string]interface{}{"id": "r1"}}}
		assert.False(t, IsDirectTest(raw))
	})
}
