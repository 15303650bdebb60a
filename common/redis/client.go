package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/overwasher/sensor-node/common/config"

	"github.com/go-redis/redis/v8"
)

// 节点侧连接参数：连接数少，超时短，网关不可达时尽快失败
const (
	poolSize     = 4
	dialTimeout  = 3 * time.Second
	ioTimeout    = 2 * time.Second
	pingDeadline = 5 * time.Second
)

// Client Redis客户端类型别名
type Client = redis.Client

// NewRedisClient 创建Redis客户端（不发起连接）
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     poolSize,
		DialTimeout:  dialTimeout,
		ReadTimeout:  ioTimeout,
		WriteTimeout: ioTimeout,
	})
}

// Ping 测试Redis连接，最多等待 pingDeadline
func Ping(ctx context.Context, client *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, pingDeadline)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s unreachable: %w", client.Options().Addr, err)
	}
	return nil
}

// Close 关闭Redis连接
func Close(client *redis.Client) error {
	return client.Close()
}
