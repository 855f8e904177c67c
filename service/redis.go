package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/TIANLI0/BuildingKit/config"
	"github.com/TIANLI0/BuildingKit/model"
	"github.com/TIANLI0/BuildingKit/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const predictionKeyPrefix = "prediction:"

type RedisService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisService(cfg *config.RedisConfig) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// GetPrediction 从缓存获取推理结果，未命中时返回 nil, nil
func (s *RedisService) GetPrediction(ctx context.Context, md5 string) (*model.PredictionResult, error) {
	data, err := s.client.Get(ctx, predictionKeyPrefix+md5).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // 缓存未命中
		}
		return nil, err
	}

	var result model.PredictionResult
	if err := json.Unmarshal(data, &result); err != nil {
		utils.Logger.Error("failed to unmarshal prediction result",
			zap.String("md5", md5), zap.Error(err))
		return nil, err
	}

	return &result, nil
}

// SetPrediction 写入推理结果缓存
func (s *RedisService) SetPrediction(ctx context.Context, md5 string, result *model.PredictionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, predictionKeyPrefix+md5, data, s.ttl).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}
