package qrtool

import (
	"context"
	"log/slog"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendDynamo = "dynamodb"
)

// NewStoreFromEnv picks the counter backend from the process environment:
// REDIS_URL selects the cache, DYNAMODB_TABLE the stats table, and anything
// else keeps counters in memory.
func NewStoreFromEnv(ctx context.Context, getenv func(string) string, logger *slog.Logger) (Store, string, error) {
	if u := getenv("REDIS_URL"); u != "" {
		s, err := NewRedisStore(u)
		if err != nil {
			return nil, "", err
		}
		return s, BackendRedis, nil
	}
	if table := getenv("DYNAMODB_TABLE"); table != "" {
		region := getenv("AWS_DEFAULT_REGION")
		if region == "" {
			region = getenv("REGION")
		}
		s, err := NewDynamoStore(ctx, table, region)
		if err != nil {
			return nil, "", err
		}
		return s, BackendDynamo, nil
	}
	logger.Info("no stats backend configured, counting in memory")
	return NewMemoryStore(), BackendMemory, nil
}
