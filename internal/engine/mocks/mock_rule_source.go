// Package mocks provides test doubles for the engine package's
// dependencies.
package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/panther-labs/rules-engine/pkg/models"
)

// MockRuleSource is a testify mock of engine.RuleSource.
type MockRuleSource struct {
	mock.Mock
}

func NewMockRuleSource() *MockRuleSource {
	return &MockRuleSource{}
}

func (m *MockRuleSource) FetchRules() ([]models.RuleConfig, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.RuleConfig), args.Error(1)
}
