package service

import (
	"context"
	"image"
	"sort"

	"github.com/TIANLI0/BuildingKit/model"
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// Detector 目标检测器。实现需要保证同一实例的并发调用安全，且调用之间不保留图像状态。
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]model.Detection, error)
	Close() error
}

// candidate 解码后、NMS 之前的候选框，坐标为原图像素
type candidate struct {
	x1, y1, x2, y2 float32
	score          float32
	classID        int
}

func (c candidate) area() float32 {
	return math32.Max(0, c.x2-c.x1) * math32.Max(0, c.y2-c.y1)
}

func (c candidate) iou(o candidate) float32 {
	ix := math32.Min(c.x2, o.x2) - math32.Max(c.x1, o.x1)
	iy := math32.Min(c.y2, o.y2) - math32.Max(c.y1, o.y1)
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	union := c.area() + o.area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// AnchorCount YOLOv8 在 stride 8/16/32 三个尺度上的锚点总数
func AnchorCount(inputSize int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		side := inputSize / stride
		n += side * side
	}
	return n
}

// decodeOutput 解析 [1, 4+nc, A] 布局的输出：前四行为 cx, cy, w, h（输入像素），其后每行为一个类别的分数。
// 每个锚点取最高分类别，低于阈值的丢弃，坐标从输入尺寸缩放到原图并裁剪到图像范围内。
func decodeOutput(output []float32, numClasses, inputSize int, orig image.Point, threshold float32) ([]candidate, error) {
	if numClasses <= 0 || inputSize <= 0 {
		return nil, errors.Errorf("invalid output geometry: %d classes, input %d", numClasses, inputSize)
	}
	anchors := AnchorCount(inputSize)
	if want := (4 + numClasses) * anchors; len(output) != want {
		return nil, errors.Errorf("output has %d values, expected %d", len(output), want)
	}

	sx := float32(orig.X) / float32(inputSize)
	sy := float32(orig.Y) / float32(inputSize)
	maxX, maxY := float32(orig.X), float32(orig.Y)

	cands := make([]candidate, 0, 64)
	for a := 0; a < anchors; a++ {
		best, classID := float32(-1), 0
		for c := 0; c < numClasses; c++ {
			if p := output[(4+c)*anchors+a]; p > best {
				best, classID = p, c
			}
		}
		if best < threshold {
			continue
		}

		cx, cy := output[a], output[anchors+a]
		w, h := output[2*anchors+a], output[3*anchors+a]
		cands = append(cands, candidate{
			x1:      clamp32((cx-w/2)*sx, 0, maxX),
			y1:      clamp32((cy-h/2)*sy, 0, maxY),
			x2:      clamp32((cx+w/2)*sx, 0, maxX),
			y2:      clamp32((cy+h/2)*sy, 0, maxY),
			score:   best,
			classID: classID,
		})
	}
	return cands, nil
}

// nms 贪心非极大值抑制，按分数从高到低保留，与已保留框 IoU 超过阈值的丢弃
func nms(cands []candidate, threshold float32) []candidate {
	if len(cands) == 0 {
		return nil
	}
	sorted := make([]candidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].score > sorted[j].score })

	kept := make([]candidate, 0, len(sorted))
	suppressed := make([]bool, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if !suppressed[j] && sorted[i].iou(sorted[j]) > threshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

// toDetections 把候选框转换为整数像素框，空框丢弃
func toDetections(cands []candidate, names []string) []model.Detection {
	out := make([]model.Detection, 0, len(cands))
	for _, c := range cands {
		// 坐标已裁剪为非负
		x := int(c.x1 + 0.5)
		y := int(c.y1 + 0.5)
		w := int(c.x2+0.5) - x
		h := int(c.y2+0.5) - y
		if w <= 0 || h <= 0 {
			continue
		}

		label := ""
		if c.classID < len(names) {
			label = names[c.classID]
		}
		out = append(out, model.Detection{
			Box:        model.BBox{X: x, Y: y, Width: w, Height: h},
			Confidence: c.score,
			ClassID:    c.classID,
			Label:      label,
		})
	}
	return out
}

func clamp32(v, lo, hi float32) float32 {
	return math32.Min(math32.Max(v, lo), hi)
}
