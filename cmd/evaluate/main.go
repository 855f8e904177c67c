// Command evaluate 用 ONNX 模型检测一个划分的切片目录，并与 YOLO 标注比较得出 precision/recall。
//
// Usage: evaluate [-config config.yaml] [-split val] [-model best.onnx] [-out dir]
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
	split := flag.String("split", "val", "要评估的数据划分")
	modelPath := flag.String("model", "", "ONNX 模型路径，覆盖 inference.model_path")
	outDir := flag.String("out", "", "叠加图输出目录，为空时不保存")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "using default config: %v\n", err)
		cfg = config.Default()
	}
	if *modelPath != "" {
		cfg.Inference.ModelPath = *modelPath
	}

	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	detector, err := service.NewONNXDetector(cfg.Inference, cfg.Labels.ClassNames)
	if err != nil {
		utils.Logger.Fatal("failed to load detector", zap.String("model", cfg.Inference.ModelPath), zap.Error(err))
	}
	defer detector.Close()

	overlay, err := service.NewOverlayRenderer(cfg.Inference.OverlayColor, cfg.Inference.OverlayThickness)
	if err != nil {
		utils.Logger.Fatal("invalid overlay settings", zap.Error(err))
	}

	layout := service.NewDatasetService(cfg).Layout(*split)
	evaluator := service.NewEvaluator(detector, overlay, cfg.Inference.MatchIoU, cfg.Dataset.Workers, *outDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report, err := evaluator.Evaluate(ctx, layout.TileImages, layout.LabelDir)
	if err != nil {
		utils.Logger.Fatal("evaluation failed", zap.String("split", *split), zap.Error(err))
	}

	utils.Logger.Info("evaluation finished",
		zap.String("split", *split),
		zap.Float64("precision", report.Metrics.Precision),
		zap.Float64("recall", report.Metrics.Recall),
		zap.Float64("f1", report.Metrics.F1))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
}
