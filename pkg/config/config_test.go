package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Features.DaytimeStartHour)
	assert.Equal(t, 22, cfg.Features.NightStartHour)
	assert.Equal(t, "learning", cfg.Decision.Mode)
	assert.Equal(t, 0.5, cfg.Optimizer.MinConfidence)
	assert.Equal(t, 24*time.Hour, cfg.Decision.VetoWindow)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FEATURES_DAYTIME_START_HOUR", "9")
	t.Setenv("CLUSTERING_HISTORY_DAYS", "14")
	t.Setenv("DECISION_MODE", "enacting")
	t.Setenv("OPTIMIZER_MIN_CONFIDENCE", "0.65")
	t.Setenv("ANOMALY_TRAILING_WINDOW", "72h")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("KAFKA_CREATE_TOPICS", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Features.DaytimeStartHour)
	assert.Equal(t, 14, cfg.Clustering.HistoryDays)
	assert.Equal(t, "enacting", cfg.Decision.Mode)
	assert.InDelta(t, 0.65, cfg.Optimizer.MinConfidence, 1e-9)
	assert.Equal(t, 72*time.Hour, cfg.Anomaly.TrailingWindow)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.CreateTopics)
	assert.Equal(t, []string{"energy.readings.raw", "energy.weather.raw", "energy.alerts", "energy.actions"}, cfg.Kafka.Topics())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unordered windows", func(c *Config) { c.Features.DaytimeStartHour = 18 }},
		{"hour out of range", func(c *Config) { c.Features.NightStartHour = 24 }},
		{"single cluster", func(c *Config) { c.Clustering.ClusterCount = 1 }},
		{"unknown mode", func(c *Config) { c.Decision.Mode = "yolo" }},
		{"confidence above one", func(c *Config) { c.Optimizer.MinConfidence = 1.5 }},
		{"z thresholds inverted", func(c *Config) { c.Anomaly.HighZ = 2 }},
		{"history shorter than minimum", func(c *Config) { c.Clustering.MinHistoryDays = 40 }},
		{"topics without replicas", func(c *Config) { c.Kafka = KafkaConfig{CreateTopics: true} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}
