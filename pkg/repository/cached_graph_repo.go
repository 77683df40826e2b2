package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/C-eorl/P9---LITRevu/pkg/model"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

const (
	keyFollowing = "graph:following:%d"
	keyBlocked   = "graph:blocked:%d"
	keyBlockedBy = "graph:blockedby:%d"

	graphCacheTTL = 10 * time.Minute
)

// cachedGraphRepo keeps the id sets read by the feed and search in redis.
// Reads fall back to the wrapped repository whenever redis is unavailable;
// writes go to the wrapped repository first and then evict the touched keys.
//
// A key whose eviction failed is parked in pending and is never served from
// redis again until a later DEL succeeds. gen is bumped by every write so a
// fill that loaded before the write does not put the old set back.
type cachedGraphRepo struct {
	next GraphRepository
	rdb  redis.UniversalClient
	sf   singleflight.Group
	cb   *gobreaker.CircuitBreaker
	log  *logrus.Logger

	gen       uint64
	pendingMu sync.Mutex
	pending   map[string]struct{}

	hitTotal      uint64
	missTotal     uint64
	fallbackTotal uint64
	evictFail     uint64
}

func NewCachedGraphRepo(next GraphRepository, rdb redis.UniversalClient, log *logrus.Logger) GraphRepository {
	st := gobreaker.Settings{
		Name:        "GraphCacheBreaker",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,

		// 触发熔断的条件
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warnf("CircuitBreaker[%s] state changed from %s to %s", name, from, to)
		},
	}

	c := &cachedGraphRepo{
		next: next,
		rdb:  rdb,
		cb:   gobreaker.NewCircuitBreaker(st),
		log:  log,

		pending: make(map[string]struct{}),
	}
	c.registerMetrics()
	return c
}

func (c *cachedGraphRepo) registerMetrics() {
	meter := otel.GetMeterProvider().Meter("litrevu.repository.graph")
	_, err := meter.Int64ObservableGauge("graph_cache_lookup_total",
		metric.WithUnit("{lookups}"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			obs.Observe(int64(atomic.LoadUint64(&c.hitTotal)),
				metric.WithAttributes(attribute.String("result", "hit")))
			obs.Observe(int64(atomic.LoadUint64(&c.missTotal)),
				metric.WithAttributes(attribute.String("result", "miss")))
			obs.Observe(int64(atomic.LoadUint64(&c.fallbackTotal)),
				metric.WithAttributes(attribute.String("result", "fallback")))
			return nil
		}),
	)
	if err != nil {
		c.log.Warnf("failed to register graph cache metrics: %v", err)
	}

	_, err = meter.Int64ObservableGauge("graph_cache_evict_fail_total",
		metric.WithUnit("{ops}"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			obs.Observe(int64(atomic.LoadUint64(&c.evictFail)))
			return nil
		}),
	)
	if err != nil {
		c.log.Warnf("failed to register graph cache evict metric: %v", err)
	}
}

func (c *cachedGraphRepo) FollowingIDs(ctx context.Context, userID uint) ([]uint, error) {
	return c.cachedIDs(ctx, fmt.Sprintf(keyFollowing, userID), func() ([]uint, error) {
		return c.next.FollowingIDs(ctx, userID)
	})
}

func (c *cachedGraphRepo) BlockedIDs(ctx context.Context, userID uint) ([]uint, error) {
	return c.cachedIDs(ctx, fmt.Sprintf(keyBlocked, userID), func() ([]uint, error) {
		return c.next.BlockedIDs(ctx, userID)
	})
}

func (c *cachedGraphRepo) BlockedByIDs(ctx context.Context, userID uint) ([]uint, error) {
	return c.cachedIDs(ctx, fmt.Sprintf(keyBlockedBy, userID), func() ([]uint, error) {
		return c.next.BlockedByIDs(ctx, userID)
	})
}

func (c *cachedGraphRepo) cachedIDs(ctx context.Context, key string, load func() ([]uint, error)) ([]uint, error) {
	// 上次失效失败的 key 先重试删除, 删不掉就只读库
	if c.isPending(key) && !c.retryEvict(ctx, key) {
		atomic.AddUint64(&c.fallbackTotal, 1)
		return load()
	}

	val, err := c.cb.Execute(func() (interface{}, error) {
		res, err := c.rdb.Get(ctx, key).Result()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return res, nil
	})

	// 熔断或 redis 异常时直接查库
	if err != nil {
		atomic.AddUint64(&c.fallbackTotal, 1)
		c.log.Warnf("[GraphCache] redis unavailable for %s, reading database: %v", key, err)
		return load()
	}

	if val != nil {
		var ids []uint
		uerr := json.Unmarshal([]byte(val.(string)), &ids)
		if uerr == nil {
			atomic.AddUint64(&c.hitTotal, 1)
			return ids, nil
		}
		c.log.Errorf("[GraphCache] failed to unmarshal %s: %v", key, uerr)
	}

	atomic.AddUint64(&c.missTotal, 1)

	// 未命中缓存，聚合相同的读请求，回写redis
	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		gen := atomic.LoadUint64(&c.gen)
		ids, err := load()
		if err != nil {
			return nil, err
		}
		// 读库期间有写入, 结果可能是旧的, 不回写
		if atomic.LoadUint64(&c.gen) != gen {
			return ids, nil
		}
		data, _ := json.Marshal(ids)
		ttl := graphCacheTTL + time.Duration(rand.Intn(60))*time.Second
		if err := c.rdb.Set(ctx, key, string(data), ttl).Err(); err != nil {
			c.log.Errorf("[GraphCache] failed to write cache for key %s: %v", key, err)
			return ids, nil
		}
		// SET 与写入交错时删掉刚写的值
		if atomic.LoadUint64(&c.gen) != gen {
			c.evict(ctx, key)
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]uint), nil
}

// evict must be called after the write is committed.
func (c *cachedGraphRepo) evict(ctx context.Context, keys ...string) {
	atomic.AddUint64(&c.gen, 1)
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.rdb.Del(ctx, keys...).Err()
	})
	if err != nil {
		atomic.AddUint64(&c.evictFail, 1)
		c.log.Errorf("[GraphCache] failed to evict %v, parking: %v", keys, err)
		c.pendingMu.Lock()
		for _, k := range keys {
			c.pending[k] = struct{}{}
		}
		c.pendingMu.Unlock()
	}
}

func (c *cachedGraphRepo) isPending(key string) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	_, ok := c.pending[key]
	return ok
}

func (c *cachedGraphRepo) retryEvict(ctx context.Context, key string) bool {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.rdb.Del(ctx, key).Err()
	})
	if err != nil {
		return false
	}
	c.pendingMu.Lock()
	delete(c.pending, key)
	c.pendingMu.Unlock()
	c.log.Infof("[GraphCache] parked key %s evicted", key)
	return true
}

func (c *cachedGraphRepo) Follow(ctx context.Context, followerID, followeeID uint) (bool, error) {
	created, err := c.next.Follow(ctx, followerID, followeeID)
	if err != nil {
		return false, err
	}
	if created {
		c.evict(ctx, fmt.Sprintf(keyFollowing, followerID))
	}
	return created, nil
}

func (c *cachedGraphRepo) Unfollow(ctx context.Context, followerID, followeeID uint) error {
	if err := c.next.Unfollow(ctx, followerID, followeeID); err != nil {
		return err
	}
	c.evict(ctx, fmt.Sprintf(keyFollowing, followerID))
	return nil
}

func (c *cachedGraphRepo) Block(ctx context.Context, blockerID, blockedID uint) (bool, bool, error) {
	created, removed, err := c.next.Block(ctx, blockerID, blockedID)
	if err != nil {
		return false, false, err
	}
	c.evict(ctx,
		fmt.Sprintf(keyBlocked, blockerID),
		fmt.Sprintf(keyBlockedBy, blockedID),
		fmt.Sprintf(keyFollowing, blockedID),
	)
	return created, removed, nil
}

func (c *cachedGraphRepo) Unblock(ctx context.Context, blockerID, blockedID uint) error {
	if err := c.next.Unblock(ctx, blockerID, blockedID); err != nil {
		return err
	}
	c.evict(ctx,
		fmt.Sprintf(keyBlocked, blockerID),
		fmt.Sprintf(keyBlockedBy, blockedID),
	)
	return nil
}

func (c *cachedGraphRepo) ListFollowing(ctx context.Context, userID uint) ([]*model.User, error) {
	return c.next.ListFollowing(ctx, userID)
}

func (c *cachedGraphRepo) ListFollowers(ctx context.Context, userID uint) ([]*model.User, error) {
	return c.next.ListFollowers(ctx, userID)
}

func (c *cachedGraphRepo) ListBlocked(ctx context.Context, userID uint) ([]*model.User, error) {
	return c.next.ListBlocked(ctx, userID)
}
