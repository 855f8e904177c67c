package service

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"time"

	"github.com/TIANLI0/BuildingKit/config"
	"github.com/TIANLI0/BuildingKit/model"
	"github.com/TIANLI0/BuildingKit/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// PredictionCache 按图像 MD5 缓存推理结果
type PredictionCache interface {
	GetPrediction(ctx context.Context, md5 string) (*model.PredictionResult, error)
	SetPrediction(ctx context.Context, md5 string, result *model.PredictionResult) error
}

// PredictionService 负责上传图像的切分、推理与结果叠加
type PredictionService struct {
	detector     Detector
	cache        PredictionCache
	overlay      *OverlayRenderer
	tiler        *Tiler
	tileSize     int
	splitDir     string
	outputDir    string
	saveOverlays bool
	semaphore    chan struct{}
	queueTimeout time.Duration
}

// NewPredictionService cache 可以为 nil，此时每次都重新推理
func NewPredictionService(cfg *config.Config, detector Detector, cache PredictionCache) (*PredictionService, error) {
	overlay, err := NewOverlayRenderer(cfg.Inference.OverlayColor, cfg.Inference.OverlayThickness)
	if err != nil {
		return nil, err
	}

	maxConcurrent := cfg.Inference.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	return &PredictionService{
		detector:     detector,
		cache:        cache,
		overlay:      overlay,
		tiler:        NewTiler(PadToMultiple{TileSize: cfg.Tiling.TileSize}, 1),
		tileSize:     cfg.Tiling.TileSize,
		splitDir:     cfg.Tiling.SplitDir,
		outputDir:    cfg.Inference.OutputDir,
		saveOverlays: cfg.Inference.SaveOverlays,
		semaphore:    make(chan struct{}, maxConcurrent),
		queueTimeout: time.Duration(cfg.Inference.QueueTimeout) * time.Second,
	}, nil
}

// Process 处理一张图像。两个维度都是切片尺寸的整数倍时整图推理，否则先放大到整数倍再切片逐片推理。
// progress 可以为 nil。
func (s *PredictionService) Process(ctx context.Context, imagePath string, progress func(model.Stage)) (*model.PredictionOutcome, error) {
	// 并发控制
	queueCtx, cancel := context.WithTimeout(ctx, s.queueTimeout)
	defer cancel()

	select {
	case s.semaphore <- struct{}{}:
		defer func() { <-s.semaphore }()
	case <-queueCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrQueueFull
	}

	if progress == nil {
		progress = func(model.Stage) {}
	}
	startTime := time.Now()

	md5, err := utils.FileMD5(imagePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableImage, imagePath, err)
	}

	img := gocv.IMRead(imagePath, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnreadableImage, imagePath)
	}
	defer img.Close()

	width, height := img.Cols(), img.Rows()
	name := filepath.Base(imagePath)

	cached := s.lookup(ctx, md5)

	result := &model.PredictionResult{
		ImageID:   md5,
		Name:      name,
		Width:     width,
		Height:    height,
		Tiled:     NeedsTiling(width, height, s.tileSize),
		Timestamp: time.Now().Unix(),
	}

	raw, err := img.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	outcome := &model.PredictionOutcome{
		Result: result,
		Source: model.ImageResult{ID: md5, Name: name, Path: imagePath, Raw: raw},
	}

	utils.Logger.Info("processing image",
		zap.String("md5", md5),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Bool("tiled", result.Tiled),
		zap.Bool("cached", cached != nil))

	if result.Tiled {
		err = s.processTiles(ctx, img, md5, outcome, cached, progress)
	} else {
		err = s.processWhole(ctx, img, outcome, cached, progress)
	}
	if err != nil {
		return nil, err
	}

	if cached == nil && s.cache != nil {
		if err := s.cache.SetPrediction(ctx, md5, result); err != nil {
			utils.Logger.Warn("failed to set cache", zap.Error(err))
		}
	}

	utils.Logger.Info("image processed successfully",
		zap.String("md5", md5),
		zap.Int("buildings", result.Count()),
		zap.Duration("duration", time.Since(startTime)))

	return outcome, nil
}

func (s *PredictionService) lookup(ctx context.Context, md5 string) *model.PredictionResult {
	if s.cache == nil {
		return nil
	}
	cached, err := s.cache.GetPrediction(ctx, md5)
	if err != nil {
		utils.Logger.Warn("failed to get cache", zap.Error(err))
		return nil
	}
	return cached
}

func (s *PredictionService) processWhole(ctx context.Context, img gocv.Mat, outcome *model.PredictionOutcome,
	cached *model.PredictionResult, progress func(model.Stage)) error {
	progress(model.StagePredicting)

	var detections []model.Detection
	if cached != nil && !cached.Tiled {
		detections = cached.Detections
	} else {
		var err error
		if detections, err = s.detector.Detect(ctx, outcome.Source.Raw); err != nil {
			return fmt.Errorf("failed to detect %s: %w", outcome.Source.Name, err)
		}
	}

	predicted, err := s.render(img, detections, outcome.Source.Name)
	if err != nil {
		return err
	}

	outcome.Result.Detections = detections
	outcome.Source.Predicted = predicted
	outcome.Source.Detections = detections
	return nil
}

func (s *PredictionService) processTiles(ctx context.Context, img gocv.Mat, md5 string, outcome *model.PredictionOutcome,
	cached *model.PredictionResult, progress func(model.Stage)) error {
	progress(model.StageTiling)

	tiles, plan, err := s.tiler.Split(img, utils.BaseName(outcome.Source.Name), gocv.InterpolationLinear)
	if err != nil {
		return err
	}
	defer CloseTiles(tiles)

	if err := utils.EnsureDir(s.splitDir); err != nil {
		return err
	}
	paths, err := WriteTiles(s.splitDir, tiles)
	if err != nil {
		return err
	}

	outcome.Result.Strategy = plan.Strategy
	cachedTiles := make(map[string][]model.Detection)
	if cached != nil {
		for _, tp := range cached.Tiles {
			cachedTiles[tp.Name] = tp.Detections
		}
	}

	progress(model.StagePredicting)
	for i := range tiles {
		tile := tiles[i].Tile
		tileName := tile.Name()

		raw, err := tiles[i].Mat.ToImage()
		if err != nil {
			return fmt.Errorf("failed to convert tile %s: %w", tileName, err)
		}

		detections, hit := cachedTiles[tileName]
		if !hit {
			if detections, err = s.detector.Detect(ctx, raw); err != nil {
				return fmt.Errorf("failed to detect %s: %w", tileName, err)
			}
		}

		predicted, err := s.render(tiles[i].Mat, detections, tileName)
		if err != nil {
			return err
		}

		outcome.Result.Tiles = append(outcome.Result.Tiles, model.TilePrediction{
			Name:       tileName,
			Row:        tile.Row,
			Col:        tile.Col,
			Detections: detections,
		})
		outcome.Tiles = append(outcome.Tiles, model.ImageResult{
			ID:         md5 + ":" + tileName,
			Name:       tileName,
			Path:       paths[i],
			Raw:        raw,
			Predicted:  predicted,
			Detections: detections,
		})
	}

	utils.Logger.Debug("tiles predicted",
		zap.String("md5", md5),
		zap.String("strategy", plan.Strategy),
		zap.Int("tiles", len(tiles)))

	return nil
}

// render 绘制叠加图，按配置保存到输出目录
func (s *PredictionService) render(src gocv.Mat, detections []model.Detection, name string) (image.Image, error) {
	drawn := s.overlay.Render(src, detections)
	defer drawn.Close()

	if s.saveOverlays {
		if err := utils.EnsureDir(s.outputDir); err != nil {
			return nil, err
		}
		path := filepath.Join(s.outputDir, name)
		if ok := gocv.IMWrite(path, drawn); !ok {
			utils.Logger.Warn("failed to save overlay", zap.String("path", path))
		}
	}

	img, err := drawn.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert overlay %s: %w", name, err)
	}
	return img, nil
}
