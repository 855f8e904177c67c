// Command prepare 把 <base>/<split> 与 <base>/<split>_labels 下的图像/掩码对切分成训练切片，
// 生成 YOLO 标注并写出 dataset.yaml。
//
// Usage: prepare [-config config.yaml] [-base dir] [-grid 3] [-tile 512]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/TIANLI0/BuildingKit/config"
	"github.com/TIANLI0/BuildingKit/service"
	"github.com/TIANLI0/BuildingKit/utils"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	baseDir := flag.String("base", "", "数据集根目录，覆盖 dataset.base_dir")
	grid := flag.Int("grid", 0, "每边切片数，覆盖 tiling.grid_count")
	tile := flag.Int("tile", 0, "切片边长，覆盖 tiling.tile_size")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "using default config: %v\n", err)
		cfg = config.Default()
	}
	if *baseDir != "" {
		cfg.Dataset.BaseDir = *baseDir
	}
	if *grid > 0 {
		cfg.Tiling.GridCount = *grid
	}
	if *tile > 0 {
		cfg.Tiling.TileSize = *tile
	}

	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report, err := service.NewDatasetService(cfg).Prepare(ctx)
	if err != nil {
		utils.Logger.Error("dataset preparation failed", zap.Error(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)

	if err != nil {
		os.Exit(1)
	}
}
