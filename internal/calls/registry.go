package calls

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Registry is a derived, rebuildable index of in-flight calls kept in redis.
// It exists for fast dashboard lookups only; the durable Store remains the
// sole source of truth and the registry must never be consulted for
// correctness decisions.
type Registry struct {
	rdb *redis.Client
	ttl time.Duration
}

const registryKeyPrefix = "active_call:"

// NewRegistry builds a registry. ttl bounds entry lifetime so crashed
// processes cannot leak entries past the gateway's max call duration.
func NewRegistry(rdb *redis.Client, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &Registry{rdb: rdb, ttl: ttl}
}

// ActiveCall is the summary stored per in-flight call.
type ActiveCall struct {
	CallID   string   `json:"call_id"`
	UserID   string   `json:"user_id"`
	ToNumber string   `json:"to_number"`
	Status   Status   `json:"status"`
	CallType CallType `json:"call_type"`
}

func (r *Registry) Put(ctx context.Context, a ActiveCall) error {
	if r == nil || r.rdb == nil {
		return nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, registryKeyPrefix+a.CallID, b, r.ttl).Err()
}

func (r *Registry) Remove(ctx context.Context, callID string) error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Del(ctx, registryKeyPrefix+callID).Err()
}

func (r *Registry) Get(ctx context.Context, callID string) (ActiveCall, bool, error) {
	if r == nil || r.rdb == nil {
		return ActiveCall{}, false, nil
	}
	b, err := r.rdb.Get(ctx, registryKeyPrefix+callID).Bytes()
	if err == redis.Nil {
		return ActiveCall{}, false, nil
	}
	if err != nil {
		return ActiveCall{}, false, err
	}
	var a ActiveCall
	if err := json.Unmarshal(b, &a); err != nil {
		return ActiveCall{}, false, err
	}
	return a, true, nil
}
