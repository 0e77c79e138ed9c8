package returns

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"dockwave-backend/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	packageKeyPrefix = "returns:pkg:"   // returns:pkg:<id> -> JSON registration
	shiftKeyPrefix   = "returns:shift:" // returns:shift:<shift> -> set of package ids
)

// claimScript sets the package key if absent and indexes it under its shift in the same
// step, so a claim is never left out of the listing
var claimScript = redis.NewScript(`
if redis.call("SET", KEYS[1], ARGV[1], "NX") then
	redis.call("SADD", KEYS[2], ARGV[2])
	return 1
end
return 0
`)

// RedisRegistry keeps the registry in Redis so every instance shares one claim space.
// SET NX on the package key is the claim; the per-shift set is the listing index.
type RedisRegistry struct {
	client *redis.Client
}

// NewRedisClient connects to Redis at addr
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// NewRedisRegistry creates a registry over a Redis client
func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

// Ping checks connectivity
func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRegistry) Claim(ctx context.Context, ret models.PackageReturn) (bool, error) {
	payload, err := json.Marshal(ret)
	if err != nil {
		return false, err
	}
	keys := []string{packageKeyPrefix + ret.PackageID, shiftKeyPrefix + ret.ShiftID}
	claimed, err := claimScript.Run(ctx, r.client, keys, payload, ret.PackageID).Int()
	if err != nil {
		return false, fmt.Errorf("failed to claim package %s: %w", ret.PackageID, err)
	}
	return claimed == 1, nil
}

func (r *RedisRegistry) ListByShift(ctx context.Context, shiftID string) ([]models.PackageReturn, error) {
	ids, err := r.client.SMembers(ctx, shiftKeyPrefix+shiftID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list shift returns: %w", err)
	}
	out := []models.PackageReturn{}
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = packageKeyPrefix + id
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load shift returns: %w", err)
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var ret models.PackageReturn
		if err := json.Unmarshal([]byte(raw), &ret); err != nil {
			return nil, err
		}
		out = append(out, ret)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt != out[j].RegisteredAt {
			return out[i].RegisteredAt < out[j].RegisteredAt
		}
		return out[i].PackageID < out[j].PackageID
	})
	return out, nil
}
