package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	failKeyPrefix = "login:fail:"
	lockKeyPrefix = "login:lock:"
)

// ThrottleConfig はログイン試行制限の設定です。
type ThrottleConfig struct {
	MaxAttempts  int
	Window       time.Duration
	LockDuration time.Duration
}

// DefaultThrottleConfig は 15分間に5回失敗で10分ロックする設定です。
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		MaxAttempts:  5,
		Window:       15 * time.Minute,
		LockDuration: 10 * time.Minute,
	}
}

// Throttle はクライアントIPごとのログイン失敗回数を Redis で数えます。
// 複数プロセスで状態を共有するためプロセス内には持ちません。
type Throttle struct {
	rdb *redis.Client
	cfg ThrottleConfig
}

// NewThrottle は Throttle を作成します。
func NewThrottle(rdb *redis.Client, cfg ThrottleConfig) *Throttle {
	def := DefaultThrottleConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = def.LockDuration
	}
	return &Throttle{rdb: rdb, cfg: cfg}
}

// CheckLock はロック中なら残り時間を返します。
func (t *Throttle) CheckLock(ctx context.Context, ip string) (time.Duration, error) {
	ttl, err := t.rdb.PTTL(ctx, lockKeyPrefix+ip).Result()
	if err != nil {
		return 0, err
	}
	// キーが無い場合は負の値が返る
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

// RecordFailure は失敗を記録し、ロックまでの残り回数を返します。
func (t *Throttle) RecordFailure(ctx context.Context, ip string) (int, error) {
	failKey := failKeyPrefix + ip

	// 期限は最初の失敗でだけ付ける（NX）。INCR と同じトランザクションで送る
	var incr *redis.IntCmd
	_, err := t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, failKey)
		pipe.ExpireNX(ctx, failKey, t.cfg.Window)
		return nil
	})
	if err != nil {
		return 0, err
	}
	count := incr.Val()

	if count >= int64(t.cfg.MaxAttempts) {
		_, err := t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, lockKeyPrefix+ip, count, t.cfg.LockDuration)
			pipe.Del(ctx, failKey)
			return nil
		})
		if err != nil {
			return 0, err
		}
		return 0, nil
	}

	return t.cfg.MaxAttempts - int(count), nil
}

// Reset はログイン成功時に失敗回数を消去します。
func (t *Throttle) Reset(ctx context.Context, ip string) error {
	return t.rdb.Del(ctx, failKeyPrefix+ip, lockKeyPrefix+ip).Err()
}
