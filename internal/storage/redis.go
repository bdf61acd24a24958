package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	r "github.com/redis/go-redis/v9"

	"github.com/SirClappington/restq/internal/domain"
)

const DefaultRedisPrefix = "restq:"

// RedisStore keeps each realm config as a JSON string under
// <prefix>realm:<id> and the set of known realm ids under <prefix>realms.
type RedisStore struct {
	rdb    r.UniversalClient
	prefix string
}

func NewRedisStore(rdb r.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) realmKey(id string) string { return s.prefix + "realm:" + id }
func (s *RedisStore) indexKey() string          { return s.prefix + "realms" }

func (s *RedisStore) Load(ctx context.Context, realmID string) (domain.RealmConfig, bool, error) {
	var cfg domain.RealmConfig
	b, err := s.rdb.Get(ctx, s.realmKey(realmID)).Bytes()
	if errors.Is(err, r.Nil) {
		return cfg, false, nil
	}
	if err != nil {
		return cfg, false, errors.Join(ErrLoadConfig, err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, false, errors.Join(ErrLoadConfig, err)
	}
	return cfg, true, nil
}

func (s *RedisStore) Save(ctx context.Context, realmID string, cfg domain.RealmConfig) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return errors.Join(ErrSaveConfig, err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe r.Pipeliner) error {
		pipe.Set(ctx, s.realmKey(realmID), b, 0)
		pipe.SAdd(ctx, s.indexKey(), realmID)
		return nil
	})
	if err != nil {
		return errors.Join(ErrSaveConfig, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, realmID string) error {
	var del *r.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe r.Pipeliner) error {
		del = pipe.Del(ctx, s.realmKey(realmID))
		pipe.SRem(ctx, s.indexKey(), realmID)
		return nil
	})
	if err != nil {
		return errors.Join(ErrDeleteConfig, err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("realm %q: %w", realmID, domain.ErrNotFound)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, errors.Join(ErrListRealms, err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return errors.Join(ErrHealthcheckFailed, err)
	}
	return nil
}

type RedisConfig struct {
	URL            string
	RetryAttempts  int
	RetryInterval  time.Duration
	ConnectTimeout time.Duration
}

// ConnectRedis parses the connection url and pings until redis answers or
// the attempts run out.
func ConnectRedis(ctx context.Context, cfg RedisConfig) (*r.Client, error) {
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	opts, err := r.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseRedisURL, err)
	}

	for range max(cfg.RetryAttempts, 1) {
		rdb := r.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err == nil {
			return rdb, nil
		}
		_ = rdb.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}
	return nil, ErrRedisNotReady
}
