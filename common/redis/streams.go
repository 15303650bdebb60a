package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// PublishToStream 发布消息到 Redis Streams
// maxLen > 0 时使用近似裁剪（XADD MAXLEN ~），避免节点侧 stream 无限增长
func PublishToStream(ctx context.Context, client *redis.Client, stream string, maxLen int64, values map[string]interface{}) (string, error) {
	streamValues := make(map[string]interface{}, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case string:
			streamValues[k] = val
		case []byte:
			// 二进制数据原样写入
			streamValues[k] = val
		case int:
			streamValues[k] = strconv.Itoa(val)
		case int64:
			streamValues[k] = strconv.FormatInt(val, 10)
		case uint32:
			streamValues[k] = strconv.FormatUint(uint64(val), 10)
		case bool:
			streamValues[k] = strconv.FormatBool(val)
		default:
			// 其他类型尝试 JSON 序列化
			jsonBytes, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("failed to marshal stream field %s: %w", k, err)
			}
			streamValues[k] = string(jsonBytes)
		}
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: streamValues,
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}

	return client.XAdd(ctx, args).Result()
}

// PublishJSONToStream 发布 JSON 消息到 Redis Streams
func PublishJSONToStream(ctx context.Context, client *redis.Client, stream string, maxLen int64, data interface{}) (string, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return PublishToStream(ctx, client, stream, maxLen, map[string]interface{}{
		"data":      string(jsonBytes),
		"timestamp": time.Now().Unix(),
	})
}
