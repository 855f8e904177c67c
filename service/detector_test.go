package service

import (
	"image"
	"image/color"
	"testing"

	"github.com/TIANLI0/BuildingKit/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnchorCount(t *testing.T) {
	assert.Equal(t, 8400, AnchorCount(640))
	assert.Equal(t, 5376, AnchorCount(512))
}

// buildOutput 生成 [1, 4+nc, A] 布局的假输出
func buildOutput(inputSize, numClasses int, set func(anchors int, put func(row, anchor int, v float32))) []float32 {
	anchors := AnchorCount(inputSize)
	out := make([]float32, (4+numClasses)*anchors)
	set(anchors, func(row, anchor int, v float32) {
		out[row*anchors+anchor] = v
	})
	return out
}

func TestDecodeOutput(t *testing.T) {
	out := buildOutput(512, 2, func(anchors int, put func(row, anchor int, v float32)) {
		// 锚点 3：cx=256 cy=128 w=100 h=50，类别 1 得分 0.9
		put(0, 3, 256)
		put(1, 3, 128)
		put(2, 3, 100)
		put(3, 3, 50)
		put(4, 3, 0.1)
		put(5, 3, 0.9)

		// 锚点 7：低于阈值
		put(0, 7, 10)
		put(1, 7, 10)
		put(2, 7, 5)
		put(3, 7, 5)
		put(4, 7, 0.2)

		// 锚点 9：越界，需要裁剪
		put(0, 9, 500)
		put(1, 9, 10)
		put(2, 9, 40)
		put(3, 9, 40)
		put(4, 9, 0.6)
	})

	cands, err := decodeOutput(out, 2, 512, image.Point{X: 1024, Y: 512}, 0.25)
	require.NoError(t, err)
	require.Len(t, cands, 2)

	c := cands[0]
	assert.Equal(t, 1, c.classID)
	assert.InDelta(t, 0.9, c.score, 1e-6)
	assert.InDelta(t, 412, c.x1, 1e-3)
	assert.InDelta(t, 103, c.y1, 1e-3)
	assert.InDelta(t, 612, c.x2, 1e-3)
	assert.InDelta(t, 153, c.y2, 1e-3)

	clipped := cands[1]
	assert.Equal(t, 0, clipped.classID)
	assert.InDelta(t, 0, clipped.y1, 1e-3)
	assert.InDelta(t, 1024, clipped.x2, 1e-3)
}

func TestDecodeOutputRejectsBadShape(t *testing.T) {
	_, err := decodeOutput(make([]float32, 10), 1, 512, image.Point{X: 512, Y: 512}, 0.25)
	assert.Error(t, err)

	_, err = decodeOutput(nil, 0, 512, image.Point{X: 512, Y: 512}, 0.25)
	assert.Error(t, err)
}

func TestNMS(t *testing.T) {
	cands := []candidate{
		{x1: 0, y1: 0, x2: 100, y2: 100, score: 0.6},
		{x1: 5, y1: 5, x2: 105, y2: 105, score: 0.9},
		{x1: 200, y1: 200, x2: 260, y2: 260, score: 0.5},
		{x1: 50, y1: 0, x2: 150, y2: 100, score: 0.7},
	}

	kept := nms(cands, 0.45)
	require.Len(t, kept, 3)
	assert.InDelta(t, 0.9, kept[0].score, 1e-6)
	assert.InDelta(t, 0.7, kept[1].score, 1e-6)
	assert.InDelta(t, 0.5, kept[2].score, 1e-6)

	assert.Nil(t, nms(nil, 0.45))
	// 输入切片不被重排
	assert.InDelta(t, 0.6, cands[0].score, 1e-6)
}

func TestToDetections(t *testing.T) {
	dets := toDetections([]candidate{
		{x1: 10.4, y1: 20.6, x2: 50.5, y2: 40.2, score: 0.8, classID: 0},
		{x1: 10, y1: 10, x2: 10.2, y2: 30, score: 0.5, classID: 0},
		{x1: 0, y1: 0, x2: 10, y2: 10, score: 0.4, classID: 5},
	}, []string{"building"})

	require.Len(t, dets, 2)
	assert.Equal(t, model.BBox{X: 10, Y: 21, Width: 41, Height: 19}, dets[0].Box)
	assert.Equal(t, "building", dets[0].Label)
	assert.Equal(t, "", dets[1].Label)
	assert.Equal(t, 5, dets[1].ClassID)
}

func TestFillInput(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 51, A: 255})
		}
	}

	data := make([]float32, 3*32*32)
	fillInput(img, 32, data)

	assert.InDelta(t, 1.0, data[0], 0.01)
	assert.InDelta(t, 0.0, data[32*32], 0.01)
	assert.InDelta(t, 0.2, data[2*32*32], 0.01)
	assert.InDelta(t, 1.0, data[32*32-1], 0.01)
}
