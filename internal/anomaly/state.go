package anomaly

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AlertRecord is the last alert sent for a unit and sensor type
type AlertRecord struct {
	AnomalyID int64     `json:"anomaly_id"`
	Severity  string    `json:"severity"`
	Value     float64   `json:"value"`
	AlertedAt time.Time `json:"alerted_at"`
}

// AlertState de-duplicates alerts within a cooldown
type AlertState interface {
	// Claim records rec and reports true when no alert for the unit and
	// sensor type is within its cooldown.
	Claim(ctx context.Context, unitID, sensorType string, rec *AlertRecord) (bool, error)
	Last(ctx context.Context, unitID, sensorType string) (*AlertRecord, error)
}

// RedisAlertState keeps alert records in Redis, expiring after the cooldown
type RedisAlertState struct {
	redis    *redis.Client
	cooldown time.Duration
}

// NewRedisAlertState creates a new Redis-backed alert state
func NewRedisAlertState(redisClient *redis.Client, cooldown time.Duration) *RedisAlertState {
	return &RedisAlertState{redis: redisClient, cooldown: cooldown}
}

func alertKey(unitID, sensorType string) string {
	return fmt.Sprintf("alert_state:%s:%s", unitID, sensorType)
}

// Claim sets the record only if no unexpired record exists
func (s *RedisAlertState) Claim(ctx context.Context, unitID, sensorType string, rec *AlertRecord) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to marshal alert state: %w", err)
	}

	ok, err := s.redis.SetNX(ctx, alertKey(unitID, sensorType), data, s.cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set alert state in Redis: %w", err)
	}
	return ok, nil
}

// Last returns the record currently holding the cooldown, nil when none
func (s *RedisAlertState) Last(ctx context.Context, unitID, sensorType string) (*AlertRecord, error) {
	data, err := s.redis.Get(ctx, alertKey(unitID, sensorType)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert state from Redis: %w", err)
	}

	var rec AlertRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alert state: %w", err)
	}
	return &rec, nil
}
