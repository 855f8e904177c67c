package service

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/TIANLI0/BuildingKit/model"
	"github.com/TIANLI0/BuildingKit/utils"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// Metrics 检测结果与标注的匹配统计
type Metrics struct {
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
}

// Add 累加计数并重新计算比率
func (m *Metrics) Add(o Metrics) {
	m.TruePositives += o.TruePositives
	m.FalsePositives += o.FalsePositives
	m.FalseNegatives += o.FalseNegatives
	m.compute()
}

func (m *Metrics) compute() {
	m.Precision, m.Recall, m.F1 = 0, 0, 0
	if tp := float64(m.TruePositives); tp > 0 {
		m.Precision = tp / float64(m.TruePositives+m.FalsePositives)
		m.Recall = tp / float64(m.TruePositives+m.FalseNegatives)
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
}

// MatchDetections 按置信度从高到低把检测框与 IoU 最大且未匹配的标注框配对
func MatchDetections(detections []model.Detection, truth []model.BBox, iouThreshold float64) Metrics {
	order := make([]int, len(detections))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return detections[order[a]].Confidence > detections[order[b]].Confidence
	})

	matched := make([]bool, len(truth))
	var m Metrics
	for _, i := range order {
		best, bestIoU := -1, iouThreshold
		for j, gt := range truth {
			if matched[j] {
				continue
			}
			if iou := detections[i].Box.IoU(gt); iou >= bestIoU {
				best, bestIoU = j, iou
			}
		}
		if best < 0 {
			m.FalsePositives++
			continue
		}
		matched[best] = true
		m.TruePositives++
	}
	for _, ok := range matched {
		if !ok {
			m.FalseNegatives++
		}
	}
	m.compute()
	return m
}

// EvaluationReport 目录评估结果
type EvaluationReport struct {
	Metrics Metrics            `json:"metrics"`
	Images  map[string]Metrics `json:"images"`
	Batch   BatchReport        `json:"batch"`
	// MeanF1 逐图 F1 的算术平均
	MeanF1 float64 `json:"mean_f1"`
}

// Evaluator 用检测器跑一个带标注的切片目录
type Evaluator struct {
	detector  Detector
	overlay   *OverlayRenderer
	iou       float64
	workers   int
	outputDir string
}

// NewEvaluator outputDir 为空时不保存叠加图
func NewEvaluator(detector Detector, overlay *OverlayRenderer, iou float64, workers int, outputDir string) *Evaluator {
	return &Evaluator{
		detector:  detector,
		overlay:   overlay,
		iou:       iou,
		workers:   workers,
		outputDir: outputDir,
	}
}

// EvaluateFile 检测一张图像并与其标注文件比较
func (e *Evaluator) EvaluateFile(ctx context.Context, imagePath, labelPath string) (Metrics, error) {
	img := gocv.IMRead(imagePath, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return Metrics{}, errors.Wrap(ErrUnreadableImage, imagePath)
	}
	defer img.Close()

	records, err := ReadLabelFile(labelPath)
	if err != nil {
		return Metrics{}, errors.Wrapf(err, "failed to read labels for %s", imagePath)
	}
	truth := make([]model.BBox, 0, len(records))
	for _, r := range records {
		truth = append(truth, r.Denormalize(img.Cols(), img.Rows()))
	}

	raw, err := img.ToImage()
	if err != nil {
		return Metrics{}, errors.Wrap(err, "failed to convert image")
	}
	detections, err := e.detector.Detect(ctx, raw)
	if err != nil {
		return Metrics{}, errors.Wrapf(err, "failed to detect %s", imagePath)
	}

	if e.outputDir != "" && e.overlay != nil {
		drawn := e.overlay.Render(img, detections)
		path := filepath.Join(e.outputDir, filepath.Base(imagePath))
		if ok := gocv.IMWrite(path, drawn); !ok {
			utils.Logger.Warn("failed to save overlay", zap.String("path", path))
		}
		drawn.Close()
	}

	return MatchDetections(detections, truth, e.iou), nil
}

// Evaluate 评估 imageDir 下全部 PNG，标注从 labelDir 中同名 .txt 读取。缺少标注的图像被跳过。
func (e *Evaluator) Evaluate(ctx context.Context, imageDir, labelDir string) (*EvaluationReport, error) {
	if e.outputDir != "" {
		if err := utils.EnsureDir(e.outputDir); err != nil {
			return nil, err
		}
	}

	images, err := utils.ListFiles(imageDir, ".png")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list images in %s", imageDir)
	}

	report := &EvaluationReport{Images: make(map[string]Metrics)}
	var mu sync.Mutex

	report.Batch = RunBatch(ctx, e.workers, images, func(imagePath string) error {
		labelPath := filepath.Join(labelDir, utils.BaseName(imagePath)+".txt")
		if _, err := os.Stat(labelPath); err != nil {
			return errors.Wrap(err, "missing label file")
		}

		m, err := e.EvaluateFile(ctx, imagePath, labelPath)
		if err != nil {
			return err
		}

		mu.Lock()
		defer mu.Unlock()
		report.Images[filepath.Base(imagePath)] = m
		report.Metrics.Add(m)
		return nil
	})

	if len(report.Images) > 0 {
		f1s := make([]float64, 0, len(report.Images))
		for _, m := range report.Images {
			f1s = append(f1s, m.F1)
		}
		report.MeanF1 = stat.Mean(f1s, nil)
	}

	utils.Logger.Info("evaluation finished",
		zap.String("image_dir", imageDir),
		zap.Int("images", report.Batch.Processed),
		zap.Int("skipped", report.Batch.Skipped),
		zap.Float64("precision", report.Metrics.Precision),
		zap.Float64("recall", report.Metrics.Recall))

	return report, ctx.Err()
}
