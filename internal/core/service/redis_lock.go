package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lua 脚本：释放锁
// KEYS[1]: 锁的 key
// ARGV[1]: 锁的 value (token)，防止误删别人的锁
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`

// DistLock 分布式锁，归集循环用它保证多实例下只有一个 master 在跑批
type DistLock struct {
	client     *redis.Client
	key        string
	token      string        // 锁的唯一标识 (UUID)，谁加锁谁解锁
	expiration time.Duration // 自动过期，持有者挂了锁不会悬死
}

func NewDistLock(client *redis.Client, key string, expiration time.Duration) *DistLock {
	return &DistLock{
		client:     client,
		key:        key,
		token:      uuid.New().String(),
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞，一次性）
func (l *DistLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.token, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Renew 续期，归集批次比过期时间长时定期喂
// 锁不在或 token 对不上说明所有权已丢，返回 false 让持有方自己收手
func (l *DistLock) Renew(ctx context.Context) (bool, error) {
	val, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil // 锁已过期
	}
	if err != nil {
		return false, err
	}
	if val != l.token {
		return false, nil
	}
	return l.client.Expire(ctx, l.key, l.expiration).Result()
}

// Unlock 安全释放锁 (Lua 保证 get+del 原子)
func (l *DistLock) Unlock(ctx context.Context) (bool, error) {
	res, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.token).Result()
	if err != nil {
		return false, err
	}
	// 1 表示删除成功，0 表示 Key 不存在或 Token 不匹配
	return res.(int64) == 1, nil
}
