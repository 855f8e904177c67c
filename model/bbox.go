package model

import "image"

// BBox 像素坐标下的轴对齐边界框
type BBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// BBoxFromRect 将 image.Rectangle 转换为 BBox
func BBoxFromRect(r image.Rectangle) BBox {
	r = r.Canon()
	return BBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

func (b BBox) Area() int {
	return b.Width * b.Height
}

// IoU 计算两个边界框的交并比
func (b BBox) IoU(o BBox) float64 {
	inter := b.Rect().Intersect(o.Rect())
	interArea := inter.Dx() * inter.Dy()
	if interArea == 0 {
		return 0
	}
	union := b.Area() + o.Area() - interArea
	return float64(interArea) / float64(union)
}
