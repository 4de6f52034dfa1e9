// README: Redis-backed driver presence and broadcast bookkeeping for the
// open-order pool.
package pool

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"carpool/internal/types"
)

const (
	onlineKey       = "carpool:drivers:online"
	notifiedPrefix  = "carpool:order:notified:"
	notifiedExpires = 24 * time.Hour
)

type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// MarkOnline adds a driver to the presence set when its socket connects.
func (s *Store) MarkOnline(ctx context.Context, driverID types.ID) error {
	return s.rdb.SAdd(ctx, onlineKey, string(driverID)).Err()
}

func (s *Store) MarkOffline(ctx context.Context, driverID types.ID) error {
	return s.rdb.SRem(ctx, onlineKey, string(driverID)).Err()
}

func (s *Store) OnlineDrivers(ctx context.Context) ([]types.ID, error) {
	members, err := s.rdb.SMembers(ctx, onlineKey).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(members))
	for i, m := range members {
		ids[i] = types.ID(m)
	}
	return ids, nil
}

// RecordBroadcast remembers which drivers were told about an order, so a
// reconnecting driver is not re-notified for orders it already saw.
func (s *Store) RecordBroadcast(ctx context.Context, orderID types.ID, drivers []types.ID) error {
	if len(drivers) == 0 {
		return nil
	}
	members := make([]interface{}, len(drivers))
	for i, d := range drivers {
		members[i] = string(d)
	}
	key := notifiedPrefix + string(orderID)
	pipe := s.rdb.Pipeline()
	pipe.SAdd(ctx, key, members...)
	pipe.Expire(ctx, key, notifiedExpires)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) WasNotified(ctx context.Context, orderID, driverID types.ID) (bool, error) {
	return s.rdb.SIsMember(ctx, notifiedPrefix+string(orderID), string(driverID)).Result()
}

// ClearOrder drops the broadcast record once the order leaves the pool.
func (s *Store) ClearOrder(ctx context.Context, orderID types.ID) error {
	return s.rdb.Del(ctx, notifiedPrefix+string(orderID)).Err()
}
