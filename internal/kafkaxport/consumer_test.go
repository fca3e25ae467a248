//go:build unit

package kafkaxport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConsumerConfig(t *testing.T) {
	cfg := DefaultConsumerConfig()
	assert.Equal(t, "rules-engine", cfg.GroupID)
	assert.Equal(t, 10e3, float64(cfg.MinBytes))
}

func TestConsumer_HealthCheck_HealthyWithNoTraffic(t *testing.T) {
	c := &Consumer{}
	assert.True(t, c.HealthCheck())
}

func TestConsumer_HealthCheck_UnhealthyAboveTenPercentFailures(t *testing.T) {
	c := &Consumer{processed: 80, failed: 20}
	assert.False(t, c.HealthCheck())
}

func TestConsumer_HealthCheck_HealthyBelowTenPercentFailures(t *testing.T) {
	c := &Consumer{processed: 95, failed: 5}
	assert.True(t, c.HealthCheck())
}
