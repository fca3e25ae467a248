// Package mocks provides test doubles for the ingest package's
// dependencies.
package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/panther-labs/rules-engine/pkg/models"
)

// MockObjectGetter is a testify mock of ingest.ObjectGetter.
type MockObjectGetter struct {
	mock.Mock
}

func NewMockObjectGetter() *MockObjectGetter {
	return &MockObjectGetter{}
}

func (m *MockObjectGetter) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, bucket, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

// MockAnalyzer is a testify mock of ingest.Analyzer.
type MockAnalyzer struct {
	mock.Mock
}

func NewMockAnalyzer() *MockAnalyzer {
	return &MockAnalyzer{}
}

func (m *MockAnalyzer) Analyze(logType string, event models.LogEvent) []models.EngineResult {
	args := m.Called(logType, event)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]models.EngineResult)
}

// MockSink is a testify mock of ingest.Sink.
type MockSink struct {
	mock.Mock
}

func NewMockSink() *MockSink {
	return &MockSink{}
}

func (m *MockSink) Add(result models.EngineResult) error {
	args := m.Called(result)
	return args.Error(0)
}
