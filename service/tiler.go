package service

import (
	"context"
	"fmt"
	"image"
	"path/filepath"

	"github.com/TIANLI0/BuildingKit/model"
	"github.com/TIANLI0/BuildingKit/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const (
	StrategyFixedGrid     = "fixed-grid"
	StrategyPadToMultiple = "pad-to-multiple"
)

// TilingStrategy 决定源图像如何划分为切片
type TilingStrategy interface {
	Name() string
	Plan(width, height int) (TilePlan, error)
}

// TileCell 切片在画布坐标系中的区域
type TileCell struct {
	Row  int
	Col  int
	Rect image.Rectangle
}

// TilePlan 一次切分的完整几何描述。Canvas 与 Source 不同时，先把整图缩放到 Canvas 再切。
type TilePlan struct {
	Strategy string
	Source   image.Point
	Canvas   image.Point
	Rows     int
	Cols     int
	TileSize int
	Cells    []TileCell
}

// FixedGrid 把源图分成 Count×Count 个单元，每个单元再独立缩放到 TileSize
type FixedGrid struct {
	Count    int
	TileSize int
}

func (g FixedGrid) Name() string { return StrategyFixedGrid }

// Plan 单元边界取 floor(i*W/N)，保证无缝无重叠地覆盖整图
func (g FixedGrid) Plan(width, height int) (TilePlan, error) {
	if g.Count <= 0 || g.TileSize <= 0 {
		return TilePlan{}, fmt.Errorf("%w: grid %d, tile size %d", ErrInvalidTileSize, g.Count, g.TileSize)
	}
	if width < g.Count || height < g.Count {
		return TilePlan{}, fmt.Errorf("%w: %dx%d image is smaller than a %dx%d grid",
			ErrInvalidTileSize, width, height, g.Count, g.Count)
	}

	plan := TilePlan{
		Strategy: g.Name(),
		Source:   image.Point{X: width, Y: height},
		Canvas:   image.Point{X: width, Y: height},
		Rows:     g.Count,
		Cols:     g.Count,
		TileSize: g.TileSize,
		Cells:    make([]TileCell, 0, g.Count*g.Count),
	}
	for row := 0; row < g.Count; row++ {
		y0, y1 := row*height/g.Count, (row+1)*height/g.Count
		for col := 0; col < g.Count; col++ {
			x0, x1 := col*width/g.Count, (col+1)*width/g.Count
			plan.Cells = append(plan.Cells, TileCell{Row: row, Col: col, Rect: image.Rect(x0, y0, x1, y1)})
		}
	}
	return plan, nil
}

// PadToMultiple 把整图放大到 TileSize 的整数倍，再切出不需要二次缩放的精确切片
type PadToMultiple struct {
	TileSize int
}

func (p PadToMultiple) Name() string { return StrategyPadToMultiple }

func (p PadToMultiple) Plan(width, height int) (TilePlan, error) {
	if p.TileSize <= 0 {
		return TilePlan{}, fmt.Errorf("%w: tile size %d", ErrInvalidTileSize, p.TileSize)
	}
	if width <= 0 || height <= 0 {
		return TilePlan{}, fmt.Errorf("%w: empty %dx%d image", ErrInvalidTileSize, width, height)
	}

	cols := ceilDiv(width, p.TileSize)
	rows := ceilDiv(height, p.TileSize)
	plan := TilePlan{
		Strategy: p.Name(),
		Source:   image.Point{X: width, Y: height},
		Canvas:   image.Point{X: cols * p.TileSize, Y: rows * p.TileSize},
		Rows:     rows,
		Cols:     cols,
		TileSize: p.TileSize,
		Cells:    make([]TileCell, 0, rows*cols),
	}
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			plan.Cells = append(plan.Cells, TileCell{
				Row:  row,
				Col:  col,
				Rect: image.Rect(col*p.TileSize, row*p.TileSize, (col+1)*p.TileSize, (row+1)*p.TileSize),
			})
		}
	}
	return plan, nil
}

// NeedsTiling 两个维度都已是 tileSize 的整数倍时整图直接推理
func NeedsTiling(width, height, tileSize int) bool {
	return width%tileSize != 0 || height%tileSize != 0
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// TileMat 切片及其像素数据，调用方负责 Close
type TileMat struct {
	Tile model.Tile
	Mat  gocv.Mat
}

// CloseTiles 释放一组切片
func CloseTiles(tiles []TileMat) {
	for i := range tiles {
		tiles[i].Mat.Close()
	}
}

// Tiler 按策略切分图像与掩码
type Tiler struct {
	strategy TilingStrategy
	workers  int
}

func NewTiler(strategy TilingStrategy, workers int) *Tiler {
	return &Tiler{strategy: strategy, workers: workers}
}

func (t *Tiler) Strategy() TilingStrategy {
	return t.strategy
}

// Split 切分单张图像
func (t *Tiler) Split(img gocv.Mat, base string, interp gocv.InterpolationFlags) ([]TileMat, TilePlan, error) {
	plan, err := t.strategy.Plan(img.Cols(), img.Rows())
	if err != nil {
		return nil, TilePlan{}, err
	}
	return cutPlan(img, plan, base, interp), plan, nil
}

// SplitPair 用同一几何切分图像和掩码，保证每个切片的图像与掩码来自完全相同的像素区域
func (t *Tiler) SplitPair(img, mask gocv.Mat, base string) (images, masks []TileMat, plan TilePlan, err error) {
	if img.Cols() != mask.Cols() || img.Rows() != mask.Rows() {
		return nil, nil, TilePlan{}, fmt.Errorf("%w: image %dx%d, mask %dx%d",
			ErrDimensionMismatch, img.Cols(), img.Rows(), mask.Cols(), mask.Rows())
	}

	plan, err = t.strategy.Plan(img.Cols(), img.Rows())
	if err != nil {
		return nil, nil, TilePlan{}, err
	}

	images = cutPlan(img, plan, base, gocv.InterpolationLinear)
	masks = cutPlan(mask, plan, base, gocv.InterpolationNearestNeighbor)
	return images, masks, plan, nil
}

func cutPlan(src gocv.Mat, plan TilePlan, base string, interp gocv.InterpolationFlags) []TileMat {
	canvas := src
	if plan.Canvas != plan.Source {
		canvas = gocv.NewMat()
		defer canvas.Close()
		gocv.Resize(src, &canvas, plan.Canvas, 0, 0, interp)
	}

	size := image.Point{X: plan.TileSize, Y: plan.TileSize}
	tiles := make([]TileMat, 0, len(plan.Cells))
	for _, cell := range plan.Cells {
		region := canvas.Region(cell.Rect)

		out := gocv.NewMat()
		if cell.Rect.Size() == size {
			region.CopyTo(&out)
		} else {
			gocv.Resize(region, &out, size, 0, 0, interp)
		}
		region.Close()

		tiles = append(tiles, TileMat{
			Tile: model.Tile{
				Base:   base,
				Row:    cell.Row,
				Col:    cell.Col,
				Ext:    "png",
				Source: cell.Rect,
			},
			Mat: out,
		})
	}
	return tiles
}

// WriteTiles 以 {base}_{row}_{col}.png 写入扁平目录，返回写出的路径
func WriteTiles(dir string, tiles []TileMat) ([]string, error) {
	paths := make([]string, 0, len(tiles))
	for _, tile := range tiles {
		path := filepath.Join(dir, tile.Tile.Name())
		if ok := gocv.IMWrite(path, tile.Mat); !ok {
			return paths, fmt.Errorf("failed to write tile %s", path)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// TilePairFile 切分一对图像/掩码文件并写出
func (t *Tiler) TilePairFile(imagePath, maskPath, outImageDir, outMaskDir string) (int, error) {
	img := gocv.IMRead(imagePath, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return 0, fmt.Errorf("%w: %s", ErrUnreadableImage, imagePath)
	}
	defer img.Close()

	mask := gocv.IMRead(maskPath, gocv.IMReadGrayScale)
	if mask.Empty() {
		mask.Close()
		return 0, fmt.Errorf("%w: %s", ErrUnreadableImage, maskPath)
	}
	defer mask.Close()

	images, masks, plan, err := t.SplitPair(img, mask, utils.BaseName(imagePath))
	if err != nil {
		return 0, err
	}
	defer CloseTiles(images)
	defer CloseTiles(masks)

	if _, err := WriteTiles(outImageDir, images); err != nil {
		return 0, err
	}
	if _, err := WriteTiles(outMaskDir, masks); err != nil {
		return 0, err
	}

	utils.Logger.Debug("pair tiled",
		zap.String("image", imagePath),
		zap.String("strategy", plan.Strategy),
		zap.Int("tiles", len(plan.Cells)))

	return len(plan.Cells), nil
}

// TileDir 切分目录下全部同名 PNG 图像/掩码对。读取失败或尺寸不一致的对会被跳过；
// 输出目录无法创建时返回错误。
func (t *Tiler) TileDir(ctx context.Context, imageDir, maskDir, outImageDir, outMaskDir string) (BatchReport, error) {
	for _, dir := range []string{outImageDir, outMaskDir} {
		if err := utils.EnsureDir(dir); err != nil {
			return BatchReport{}, err
		}
	}

	imagesPaths, err := utils.ListFiles(imageDir, ".png")
	if err != nil {
		return BatchReport{}, fmt.Errorf("failed to list images in %s: %w", imageDir, err)
	}

	report := RunBatch(ctx, t.workers, imagesPaths, func(imagePath string) error {
		maskPath := filepath.Join(maskDir, filepath.Base(imagePath))
		_, err := t.TilePairFile(imagePath, maskPath, outImageDir, outMaskDir)
		return err
	})

	utils.Logger.Info("directory tiled",
		zap.String("image_dir", imageDir),
		zap.String("strategy", t.strategy.Name()),
		zap.Int("processed", report.Processed),
		zap.Int("skipped", report.Skipped))

	return report, ctx.Err()
}
