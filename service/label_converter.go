package service

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/TIANLI0/BuildingKit/model"
	"github.com/TIANLI0/BuildingKit/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// LabelConverter 把二值掩码转换为归一化的检测标注
type LabelConverter struct {
	classID   int
	target    image.Point
	workers   int
	processor *MaskProcessor
}

// NewLabelConverter target 为标注归一化所参照的图像尺寸
func NewLabelConverter(classID int, target image.Point, workers int, processor *MaskProcessor) *LabelConverter {
	if processor == nil {
		processor = NewMaskProcessor(0)
	}
	return &LabelConverter{
		classID:   classID,
		target:    target,
		workers:   workers,
		processor: processor,
	}
}

// ToLabelRecords 把原生尺寸下的区域按轴独立缩放到目标尺寸，再归一化
func ToLabelRecords(regions []model.BBox, native, target image.Point, classID int) []model.LabelRecord {
	if native.X <= 0 || native.Y <= 0 || target.X <= 0 || target.Y <= 0 {
		return nil
	}

	sx := float64(target.X) / float64(native.X)
	sy := float64(target.Y) / float64(native.Y)
	tw := float64(target.X)
	th := float64(target.Y)

	records := make([]model.LabelRecord, 0, len(regions))
	for _, r := range regions {
		x := float64(r.X) * sx
		y := float64(r.Y) * sy
		w := float64(r.Width) * sx
		h := float64(r.Height) * sy

		records = append(records, model.LabelRecord{
			ClassID: classID,
			CenterX: (x + w/2) / tw,
			CenterY: (y + h/2) / th,
			Width:   w / tw,
			Height:  h / th,
		})
	}
	return records
}

// Convert 从掩码生成标注记录。target 为零值时按掩码自身尺寸归一化。
func (c *LabelConverter) Convert(mask *gocv.Mat, target image.Point) []model.LabelRecord {
	native := image.Point{X: mask.Cols(), Y: mask.Rows()}
	if target == (image.Point{}) {
		target = native
	}

	regions := c.processor.ExtractRegions(mask)
	records := ToLabelRecords(regions, native, target, c.classID)

	for _, r := range records {
		if !r.Valid() {
			utils.Logger.Warn("label record out of [0,1]",
				zap.String("record", r.String()),
				zap.Int("native_width", native.X),
				zap.Int("native_height", native.Y))
		}
	}
	return records
}

// ConvertFile 读取掩码并写出同名 .txt 标注文件；空掩码也会写出空文件
func (c *LabelConverter) ConvertFile(maskPath, labelPath string) (int, error) {
	mask := gocv.IMRead(maskPath, gocv.IMReadGrayScale)
	if mask.Empty() {
		mask.Close()
		return 0, fmt.Errorf("%w: %s", ErrUnreadableImage, maskPath)
	}
	defer mask.Close()

	records := c.Convert(&mask, c.target)
	if err := WriteLabelFile(labelPath, records); err != nil {
		return 0, err
	}

	utils.Logger.Debug("mask converted",
		zap.String("mask", maskPath),
		zap.Int("regions", len(records)),
		zap.Float64("foreground_ratio", c.processor.ForegroundRatio(&mask)))

	return len(records), nil
}

// ConvertDir 转换目录下全部 PNG 掩码。无法读取的掩码记录日志后跳过；
// 只有输出目录无法创建时才返回错误。
func (c *LabelConverter) ConvertDir(ctx context.Context, maskDir, labelDir string) (BatchReport, error) {
	if err := utils.EnsureDir(labelDir); err != nil {
		return BatchReport{}, err
	}

	masks, err := utils.ListFiles(maskDir, ".png")
	if err != nil {
		return BatchReport{}, fmt.Errorf("failed to list masks in %s: %w", maskDir, err)
	}

	report := RunBatch(ctx, c.workers, masks, func(maskPath string) error {
		labelPath := filepath.Join(labelDir, utils.BaseName(maskPath)+".txt")
		_, err := c.ConvertFile(maskPath, labelPath)
		return err
	})

	utils.Logger.Info("masks converted",
		zap.String("mask_dir", maskDir),
		zap.String("label_dir", labelDir),
		zap.Int("processed", report.Processed),
		zap.Int("skipped", report.Skipped))

	return report, ctx.Err()
}

// WriteLabelFile 写标注文件，已存在时覆盖
func WriteLabelFile(path string, records []model.LabelRecord) error {
	if err := os.WriteFile(path, []byte(model.FormatLabels(records)), 0644); err != nil {
		return fmt.Errorf("failed to write label file %s: %w", path, err)
	}
	return nil
}

// ReadLabelFile 读取标注文件
func ReadLabelFile(path string) ([]model.LabelRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return model.ParseLabels(string(data))
}
