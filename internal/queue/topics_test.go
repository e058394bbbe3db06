package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissingTopicsSkipsExistingAndDuplicates(t *testing.T) {
	configs := missingTopics(
		[]string{"energy.readings.raw", "energy.alerts", "", "energy.alerts", "energy.actions"},
		map[string]bool{"energy.readings.raw": true},
		10, 1,
	)

	require.Len(t, configs, 2)
	assert.Equal(t, "energy.alerts", configs[0].Topic)
	assert.Equal(t, "energy.actions", configs[1].Topic)
	assert.Equal(t, 10, configs[1].NumPartitions)
	assert.Equal(t, 1, configs[1].ReplicationFactor)

	assert.Empty(t, missingTopics([]string{"a"}, map[string]bool{"a": true}, 1, 1))
}

func TestEnsureTopicsWithoutBrokers(t *testing.T) {
	_, err := EnsureTopics(context.Background(), nil, 1, 1, "energy.alerts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no kafka brokers configured")
}

func TestEnsureTopicsUnreachableBroker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := EnsureTopics(ctx, []string{"127.0.0.1:1"}, 1, 1, "energy.alerts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}
