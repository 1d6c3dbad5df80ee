package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"cableguard/internal/models"
)

const (
	recentListKey = "anomalies:recent"
	recentListMax = 999
	eventTTL      = time.Hour
)

// RedisClient archives anomaly events so dashboards can replay recent
// detections after a monitor restart.
type RedisClient struct {
	client *redis.Client
	ctx    context.Context
}

func NewRedisClient(addr string) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     "",
		DB:           0,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
	})

	ctx := context.Background()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisClient{
		client: client,
		ctx:    ctx,
	}, nil
}

// StoreAnomaly writes the event under a TTL key and pushes it onto the
// trimmed recent list.
func (r *RedisClient) StoreAnomaly(event models.AnomalyEvent) error {
	key := fmt.Sprintf("anomaly:%s:%d", event.SensorID, event.Timestamp.UnixNano())

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal anomaly event: %w", err)
	}

	if err := r.client.Set(r.ctx, key, data, eventTTL).Err(); err != nil {
		return fmt.Errorf("failed to store anomaly event in Redis: %w", err)
	}

	if err := r.client.LPush(r.ctx, recentListKey, key).Err(); err != nil {
		return fmt.Errorf("failed to update recent anomalies list: %w", err)
	}

	r.client.LTrim(r.ctx, recentListKey, 0, recentListMax)

	return nil
}

// RecentAnomalies returns up to count of the most recently archived events.
// Expired keys are skipped silently.
func (r *RedisClient) RecentAnomalies(count int64) ([]models.AnomalyEvent, error) {
	keys, err := r.client.LRange(r.ctx, recentListKey, 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get recent anomaly keys: %w", err)
	}

	var events []models.AnomalyEvent
	for _, key := range keys {
		data, err := r.client.Get(r.ctx, key).Result()
		if err != nil {
			continue
		}

		var event models.AnomalyEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		events = append(events, event)
	}

	return events, nil
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
