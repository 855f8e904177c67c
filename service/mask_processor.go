package service

import (
	"image"

	"github.com/TIANLI0/BuildingKit/model"
	"gocv.io/x/gocv"
)

// MaskProcessor 负责处理建筑掩码
type MaskProcessor struct {
	morphKernel int
}

// NewMaskProcessor morphKernel 为 0 时不做形态学清理
func NewMaskProcessor(morphKernel int) *MaskProcessor {
	return &MaskProcessor{morphKernel: morphKernel}
}

// Binarize 像素值大于0即为前景，输出 {0,255} 的新掩码，原掩码不变
func (mp *MaskProcessor) Binarize(mask *gocv.Mat) gocv.Mat {
	binary := gocv.NewMat()
	gocv.Threshold(*mask, &binary, 0, 255, gocv.ThresholdBinary)
	return binary
}

// MorphologyOptimize 优化掩码的形态学结构
func (mp *MaskProcessor) MorphologyOptimize(mask *gocv.Mat, kernelSize int) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: kernelSize, Y: kernelSize})
	defer kernel.Close()

	opened := gocv.NewMat()
	gocv.MorphologyEx(*mask, &opened, gocv.MorphOpen, kernel)

	closed := gocv.NewMat()
	gocv.MorphologyEx(opened, &closed, gocv.MorphClose, kernel)
	opened.Close()

	return closed
}

// Prepare 二值化并按配置做形态学清理
func (mp *MaskProcessor) Prepare(mask *gocv.Mat) gocv.Mat {
	binary := mp.Binarize(mask)
	if mp.morphKernel <= 0 {
		return binary
	}
	cleaned := mp.MorphologyOptimize(&binary, mp.morphKernel)
	binary.Close()
	return cleaned
}

// ExtractRegions 提取每个外轮廓的最小外接矩形，顺序与轮廓提取顺序一致
func (mp *MaskProcessor) ExtractRegions(mask *gocv.Mat) []model.BBox {
	binary := mp.Prepare(mask)
	defer binary.Close()

	contours := gocv.FindContours(binary, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	regions := make([]model.BBox, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		regions = append(regions, model.BBoxFromRect(gocv.BoundingRect(contours.At(i))))
	}
	return regions
}

// ForegroundRatio 前景像素占比
func (mp *MaskProcessor) ForegroundRatio(mask *gocv.Mat) float64 {
	total := mask.Rows() * mask.Cols()
	if total == 0 {
		return 0
	}
	return float64(gocv.CountNonZero(*mask)) / float64(total)
}
