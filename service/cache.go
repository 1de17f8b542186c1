package service

import (
	"context"
	"encoding/json"

	"github.com/TIANLI0/CellOverlay/config"
	"github.com/TIANLI0/CellOverlay/model"
	"github.com/TIANLI0/CellOverlay/utils"
	"github.com/die-net/lrucache"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "overlay:"

// ResultCache 按上传内容MD5缓存叠加结果。
// 本地LRU总是可用，Redis 启用且连通时同时写入。
type ResultCache struct {
	client *redis.Client
	local  *lrucache.LruCache
	cfg    config.RedisConfig
}

func NewResultCache(redisCfg *config.RedisConfig, cacheCfg *config.CacheConfig) *ResultCache {
	c := &ResultCache{
		local: lrucache.New(cacheCfg.LocalMaxBytes, int64(cacheCfg.LocalTTL.Seconds())),
		cfg:   *redisCfg,
	}
	if redisCfg.Enabled {
		c.client = redis.NewClient(&redis.Options{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})
	}
	return c
}

func (c *ResultCache) Ping(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// DisableRemote 关闭Redis，之后只使用本地缓存
func (c *ResultCache) DisableRemote() {
	if c.client == nil {
		return
	}
	_ = c.client.Close()
	c.client = nil
}

// Get 从缓存获取结果，未命中返回 nil, nil
func (c *ResultCache) Get(ctx context.Context, md5 string) (*model.OverlayResult, error) {
	key := cacheKeyPrefix + md5

	data, ok := c.local.Get(key)
	if !ok && c.client != nil {
		var err error
		data, err = c.client.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				return nil, nil // 缓存未命中
			}
			return nil, err
		}
		c.local.Set(key, data)
		ok = true
	}
	if !ok {
		return nil, nil
	}

	var result model.OverlayResult
	if err := json.Unmarshal(data, &result); err != nil {
		utils.Logger.Error("failed to unmarshal overlay result",
			zap.String("md5", md5), zap.Error(err))
		c.local.Delete(key)
		return nil, err
	}

	return &result, nil
}

// Set 写入缓存
func (c *ResultCache) Set(ctx context.Context, md5 string, result *model.OverlayResult) error {
	key := cacheKeyPrefix + md5
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	c.local.Set(key, data)
	if c.client == nil {
		return nil
	}
	return c.client.Set(ctx, key, data, c.cfg.TTL).Err()
}

// Delete 删除缓存项
func (c *ResultCache) Delete(ctx context.Context, md5 string) error {
	key := cacheKeyPrefix + md5
	c.local.Delete(key)
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, key).Err()
}

func (c *ResultCache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
