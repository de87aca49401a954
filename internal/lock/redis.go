package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiGoBatch/pkg/batch"
)

// DefaultTTL bounds how long a crashed run keeps its key
const DefaultTTL = 30 * time.Minute

// RedisLocker implements batch.Locker with redislock
// Redisによる実行ロック
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

var _ batch.Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a new redis locker
// Redis実行ロックを作成
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{
		client: redislock.New(rdb),
		ttl:    ttl,
		prefix: "lock:",
		logger: logger,
	}
}

// Acquire takes key without retrying. A held key fails with batch.ErrAlreadyRunning.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	lk, err := l.client.Obtain(ctx, l.prefix+key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		l.logger.Warn("実行ロックを取得できません", zap.String("key", key))
		return nil, fmt.Errorf("%w: %s", batch.ErrAlreadyRunning, key)
	}
	if err != nil {
		return nil, fmt.Errorf("実行ロック取得に失敗しました: %w", err)
	}

	l.logger.Debug("実行ロック取得", zap.String("key", key), zap.Duration("ttl", l.ttl))
	return func(ctx context.Context) error {
		if err := lk.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return fmt.Errorf("実行ロック解放に失敗しました: %w", err)
		}
		return nil
	}, nil
}
