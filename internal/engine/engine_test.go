//go:build unit

package engine_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panther-labs/rules-engine/internal/engine"
	"github.com/panther-labs/rules-engine/internal/engine/mocks"
	"github.com/panther-labs/rules-engine/pkg/models"
)

func criticalRule(id string) models.RuleConfig {
	return models.RuleConfig{
		ID:       id,
		Body:     "rule: event.severity == \"CRITICAL\"\n",
		LogTypes: []string{"AWS.CloudTrail"},
	}
}

func TestNew_LoadsRulesOnStartup(t *testing.T) {
	source := mocks.NewMockRuleSource()
	source.On("FetchRules").Return([]models.RuleConfig{criticalRule("r1")}, nil)

	e, err := engine.New(source, time.Minute)
	require.NoError(t, err)

	logTypes, entries := e.RuleCount()
	assert.Equal(t, 1, logTypes)
	assert.Equal(t, 1, entries)
}

func TestNew_FailsWhenInitialLoadFails(t *testing.T) {
	source := mocks.NewMockRuleSource()
	source.On("FetchRules").Return(nil, errors.New("boom"))

	_, err := engine.New(source, time.Minute)
	assert.Error(t, err)
}

func TestEngine_Analyze_RunsMatchingRules(t *testing.T) {
	source := mocks.NewMockRuleSource()
	source.On("FetchRules").Return([]models.RuleConfig{criticalRule("r1")}, nil)

	e, err := engine.New(source, time.Minute)
	require.NoError(t, err)

	results := e.Analyze("AWS.CloudTrail", models.LogEvent{"severity": "CRITICAL"})
	require.Len(t, results, 1)
	assert.True(t, results[0].Result.Matched)
}

func TestEngine_Analyze_NoRulesForLogType(t *testing.T) {
	source := mocks.NewMockRuleSource()
	source.On("FetchRules").Return([]models.RuleConfig{criticalRule("r1")}, nil)

	e, err := engine.New(source, time.Minute)
	require.NoError(t, err)

	results := e.Analyze("AWS.S3", models.LogEvent{"severity": "CRITICAL"})
	assert.Empty(t, results)
}

func TestEngine_ReloadNow_SkipsBadRuleButKeepsGood(t *testing.T) {
	source := mocks.NewMockRuleSource()
	source.On("FetchRules").Return([]models.RuleConfig{criticalRule("r1")}, nil).Once()

	e, err := engine.New(source, time.Minute)
	require.NoError(t, err)

	badConfigs := []models.RuleConfig{
		criticalRule("r1"),
		{ID: "bad", Body: "rule: event.(((", LogTypes: []string{"AWS.CloudTrail"}},
	}
	source.On("FetchRules").Return(badConfigs, nil).Once()

	require.NoError(t, e.ReloadNow())

	_, entries := e.RuleCount()
	assert.Equal(t, 1, entries)
}

func TestEngine_ReloadNow_KeepsServingStaleIndexOnFailure(t *testing.T) {
	source := mocks.NewMockRuleSource()
	source.On("FetchRules").Return([]models.RuleConfig{criticalRule("r1")}, nil).Once()

	e, err := engine.New(source, time.Minute)
	require.NoError(t, err)

	source.On("FetchRules").Return(nil, errors.New("control-plane unavailable")).Once()
	assert.Error(t, e.ReloadNow())

	_, entries := e.RuleCount()
	assert.Equal(t, 1, entries)
}
