package model

import "image"

// Detection 检测器输出的单个目标
type Detection struct {
	Box        BBox    `json:"box"`
	Confidence float32 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	Label      string  `json:"label"`
}

// TilePrediction 单个切片的检测结果
type TilePrediction struct {
	Name       string      `json:"name"`
	Row        int         `json:"row"`
	Col        int         `json:"col"`
	Detections []Detection `json:"detections"`
}

// PredictionResult 一次推理的可缓存结果
type PredictionResult struct {
	ImageID    string           `json:"image_id"`
	Name       string           `json:"name"`
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	Tiled      bool             `json:"tiled"`
	Strategy   string           `json:"strategy,omitempty"`
	Detections []Detection      `json:"detections,omitempty"`
	Tiles      []TilePrediction `json:"tiles,omitempty"`
	Timestamp  int64            `json:"timestamp"`
}

// Count 返回检测到的建筑总数
func (r *PredictionResult) Count() int {
	n := len(r.Detections)
	for _, t := range r.Tiles {
		n += len(t.Detections)
	}
	return n
}

// ImageResult 一张图像（整图或切片）在内存中的原图与叠加图
type ImageResult struct {
	ID         string
	Name       string
	Path       string
	Raw        image.Image
	Predicted  image.Image
	Detections []Detection
}

// PredictionOutcome 一次上传处理的全部产物
type PredictionOutcome struct {
	Result *PredictionResult
	Source ImageResult
	Tiles  []ImageResult
}

// Stage 处理流水线阶段
type Stage string

const (
	StageTiling     Stage = "tiling"
	StagePredicting Stage = "predicting"
)
