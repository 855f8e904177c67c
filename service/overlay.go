package service

import (
	"fmt"
	"image/color"

	"github.com/TIANLI0/BuildingKit/model"
	"github.com/lucasb-eyer/go-colorful"
	"gocv.io/x/gocv"
)

// OverlayRenderer 在图像副本上绘制检测框
type OverlayRenderer struct {
	color     color.RGBA
	thickness int
}

// NewOverlayRenderer hex 形如 "#00FF00"
func NewOverlayRenderer(hex string, thickness int) (*OverlayRenderer, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return nil, fmt.Errorf("invalid overlay color %q: %w", hex, err)
	}
	if thickness <= 0 {
		thickness = 2
	}
	r, g, b := c.RGB255()
	return &OverlayRenderer{
		color:     color.RGBA{R: r, G: g, B: b, A: 255},
		thickness: thickness,
	}, nil
}

// Render 返回绘制了检测框的新图像，src 不变
func (o *OverlayRenderer) Render(src gocv.Mat, detections []model.Detection) gocv.Mat {
	out := src.Clone()
	for _, d := range detections {
		gocv.Rectangle(&out, d.Box.Rect(), o.color, o.thickness)
	}
	return out
}
