package capacity

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const TypeRedis = "redis"

// RedisProvider reads a gauge maintained by pipeline backends that publish
// their own active count, keyed certhook:active:<namespace>:<resource>.
// A missing key means zero active units.
type RedisProvider struct {
	client redis.UniversalClient
}

func NewRedisProvider(client redis.UniversalClient) *RedisProvider {
	return &RedisProvider{client: client}
}

func (p *RedisProvider) Utilization(ctx context.Context, resource, namespace string) (int, error) {
	key := fmt.Sprintf("certhook:active:%s:%s", namespace, resource)

	count, err := p.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: reading gauge %s: %v", ErrUnknown, key, err)
	}
	return count, nil
}
