package flash

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisOpTimeout = 5 * time.Second

// RedisFlash 把区域保存在一个 redis 字符串中（SETRANGE / GETRANGE）
// 供没有本地持久存储的网关侧节点使用
type RedisFlash struct {
	client *redis.Client
	key    string
	size   int
	block  int
}

// NewRedisFlash 创建 redis 区域，key 不存在时按 size 预分配并擦除
func NewRedisFlash(ctx context.Context, client *redis.Client, key string, size, eraseBlock int) (*RedisFlash, error) {
	m := &RedisFlash{client: client, key: key, size: size, block: eraseBlock}

	n, err := client.StrLen(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to inspect flash key %s: %w", key, err)
	}
	if int(n) < size {
		if err := client.SetRange(ctx, key, n, string(erasedBytes(size-int(n)))).Err(); err != nil {
			return nil, fmt.Errorf("failed to allocate flash key %s: %w", key, err)
		}
	}
	return m, nil
}

func (m *RedisFlash) Size() int              { return m.size }
func (m *RedisFlash) EraseBlockSize() int    { return m.block }
func (m *RedisFlash) EraseBeforeWrite() bool { return false }

// ReadAt 读取区域内容
func (m *RedisFlash) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange(m.size, off, len(p)); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	// GETRANGE 的结束位置包含在内
	s, err := m.client.GetRange(ctx, m.key, off, off+int64(len(p))-1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read flash key %s: %w", m.key, err)
	}
	n := copy(p, s)
	for i := n; i < len(p); i++ {
		p[i] = Erased
	}
	return len(p), nil
}

// WriteAt 写入区域
func (m *RedisFlash) WriteAt(p []byte, off int64) (int, error) {
	if err := checkRange(m.size, off, len(p)); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := m.client.SetRange(ctx, m.key, off, string(p)).Err(); err != nil {
		return 0, fmt.Errorf("failed to write flash key %s: %w", m.key, err)
	}
	return len(p), nil
}

// Erase 以 Erased 填充范围
func (m *RedisFlash) Erase(off, n int) error {
	if err := checkErase(m.size, m.block, off, n); err != nil {
		return err
	}
	if _, err := m.WriteAt(erasedBytes(n), int64(off)); err != nil {
		return fmt.Errorf("failed to erase flash key %s: %w", m.key, err)
	}
	return nil
}
