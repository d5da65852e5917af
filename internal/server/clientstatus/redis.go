package clientstatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/printrelay/internal/protocol"
	"github.com/go-redis/redis/v8"
)

const keyPrefix = "printrelay:client:"

// RedisStore keeps client status in Redis under two keys per client, one
// for the online flag and one for the printer report, each with its own TTL.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl, now: time.Now}
}

// NewRedisClient connects to addr and verifies it with PING.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

func onlineKey(clientID string) string   { return keyPrefix + clientID + ":online" }
func printersKey(clientID string) string { return keyPrefix + clientID + ":printers" }

func (s *RedisStore) SetOnline(ctx context.Context, clientID string, online bool) error {
	v := "0"
	if online {
		v = "1"
	}
	return s.rdb.Set(ctx, onlineKey(clientID), v, s.ttl).Err()
}

func (s *RedisStore) SetPrinters(ctx context.Context, clientID string, data protocol.PrinterStatusData) error {
	b, err := json.Marshal(printersRecord{Data: data, ReportedAt: s.now().UTC()})
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, printersKey(clientID), b, s.ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, clientID string) (Status, error) {
	st := Status{ClientID: clientID}

	vals, err := s.rdb.MGet(ctx, onlineKey(clientID), printersKey(clientID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return st, err
	}
	return decodeStatus(st, vals)
}

func decodeStatus(st Status, vals []interface{}) (Status, error) {
	if len(vals) != 2 {
		return st, nil
	}
	if v, ok := vals[0].(string); ok {
		st.Online = v == "1"
	}
	if v, ok := vals[1].(string); ok {
		var rec printersRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return st, fmt.Errorf("decode printer report: %w", err)
		}
		st.Printers = &rec.Data
		st.ReportedAt = rec.ReportedAt
	}
	return st, nil
}
