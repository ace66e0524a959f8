// Package cache はRedisを使ったカタログ用キャッシュを提供する。
// Redisに接続できない場合もエラーを返さず、キャッシュミスとして振る舞う。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client はredis.Clientをラップし、接続エラーを握りつぶす。
// nilのClientも有効で、常にキャッシュミスになる。
type Client struct {
	client *redis.Client
	prefix string
}

// New はRedisクライアントを生成する。addrが空の場合はnilを返す。
func New(addr, password string, db int) *Client {
	if addr == "" {
		return nil
	}
	opts := &redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}
	return &Client{client: redis.NewClient(opts), prefix: "mentorbook:"}
}

// Get は値を返す。存在しない場合やRedisが利用できない場合はnilを返す。
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	res, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		slog.Debug("cache get failed", slog.String("key", key), slog.String("error", err.Error()))
		return nil, nil
	}
	return res, nil
}

// Set はTTL付きで値を保存する。Redisのエラーは無視する。
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		slog.Debug("cache set failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	return nil
}

// Delete はキーを削除する。Redisのエラーは無視する。
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if c == nil || c.client == nil || len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		slog.Debug("cache delete failed", slog.String("error", err.Error()))
	}
	return nil
}

// GetJSON はキャッシュ値をdstにデコードする。ヒットした場合にtrueを返す。
// 壊れた値はミスとして扱う。
func (c *Client) GetJSON(ctx context.Context, key string, dst any) bool {
	raw, _ := c.Get(ctx, key)
	if raw == nil {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false
	}
	return true
}

// SetJSON は値をJSONエンコードして保存する。
func (c *Client) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, raw, ttl)
}

// Ping はRedisへの疎通を確認する。未設定の場合はnilを返す。
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// Close は接続を閉じる。
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
