package service

import (
	"context"
	"testing"
	"time"

	"github.com/TIANLI0/BuildingKit/config"
	"github.com/TIANLI0/BuildingKit/model"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	svc := NewRedisService(&config.RedisConfig{Addr: mr.Addr(), TTL: time.Hour})
	t.Cleanup(func() { svc.Close() })
	return svc, mr
}

func TestRedisPredictionRoundTrip(t *testing.T) {
	svc, mr := newTestRedis(t)
	ctx := context.Background()
	require.NoError(t, svc.Ping(ctx))

	miss, err := svc.GetPrediction(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, miss)

	result := &model.PredictionResult{
		ImageID:  "abc",
		Name:     "scene.png",
		Width:    600,
		Height:   700,
		Tiled:    true,
		Strategy: StrategyPadToMultiple,
		Tiles: []model.TilePrediction{{
			Name: "scene_0_1.png", Row: 0, Col: 1,
			Detections: []model.Detection{{Box: model.BBox{X: 1, Y: 2, Width: 3, Height: 4}, Confidence: 0.5, Label: "building"}},
		}},
		Timestamp: 1700000000,
	}
	require.NoError(t, svc.SetPrediction(ctx, "abc", result))

	assert.True(t, mr.Exists("prediction:abc"))
	assert.Equal(t, time.Hour, mr.TTL("prediction:abc"))

	got, err := svc.GetPrediction(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, result, got)
	assert.Equal(t, 1, got.Count())
}

func TestRedisPredictionCorruptEntry(t *testing.T) {
	svc, mr := newTestRedis(t)
	require.NoError(t, mr.Set("prediction:bad", "{not json"))

	_, err := svc.GetPrediction(context.Background(), "bad")
	assert.Error(t, err)
}
