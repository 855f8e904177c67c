// Command viewer 启动桌面查看器：上传卫星图像，切片推理后浏览检测结果。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/TIANLI0/BuildingKit/config"
	"github.com/TIANLI0/BuildingKit/service"
	"github.com/TIANLI0/BuildingKit/ui"
	"github.com/TIANLI0/BuildingKit/utils"
	"github.com/TIANLI0/BuildingKit/viewer"
	"go.uber.org/zap"

	"fyne.io/fyne/v2/app"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "using default config: %v\n", err)
		cfg = config.Default()
	}

	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	var cache service.PredictionCache
	if cfg.Redis.Enabled {
		redisService := service.NewRedisService(&cfg.Redis)
		if err := redisService.Ping(context.Background()); err != nil {
			utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
		} else {
			cache = redisService
		}
		defer redisService.Close()
	}

	detector, err := service.NewONNXDetector(cfg.Inference, cfg.Labels.ClassNames)
	if err != nil {
		utils.Logger.Fatal("failed to load detector", zap.String("model", cfg.Inference.ModelPath), zap.Error(err))
	}
	defer detector.Close()

	predictionService, err := service.NewPredictionService(cfg, detector, cache)
	if err != nil {
		utils.Logger.Fatal("failed to create prediction service", zap.Error(err))
	}

	fyneApp := app.NewWithID("io.github.tianli0.buildingkit")
	session := viewer.NewSession(predictionService, cfg.Viewer)

	win := ui.New(fyneApp, session, cfg.Viewer.Width, cfg.Viewer.Height)
	win.ShowAndRun()
}
