package service

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/TIANLI0/BuildingKit/config"
	"github.com/TIANLI0/BuildingKit/utils"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DatasetDescriptor 训练框架读取的 dataset.yaml
type DatasetDescriptor struct {
	Path  string   `yaml:"path"`
	Train string   `yaml:"train,omitempty"`
	Val   string   `yaml:"val,omitempty"`
	Test  string   `yaml:"test,omitempty"`
	NC    int      `yaml:"nc"`
	Names []string `yaml:"names"`
}

// SplitLayout 单个数据划分的输入输出目录
type SplitLayout struct {
	Name       string
	ImageDir   string
	MaskDir    string
	TileImages string
	TileMasks  string
	LabelDir   string
}

// DatasetReport 数据集准备结果
type DatasetReport struct {
	Splits     map[string]SplitReport `json:"splits"`
	Descriptor string                 `json:"descriptor"`
}

// SplitReport 单个划分的切分与标注统计
type SplitReport struct {
	Tiles  BatchReport `json:"tiles"`
	Labels BatchReport `json:"labels"`
}

// DatasetService 把原始图像/掩码目录整理成可训练的切片数据集
type DatasetService struct {
	cfg       config.DatasetConfig
	labels    config.LabelsConfig
	tiler     *Tiler
	converter *LabelConverter
}

func NewDatasetService(cfg *config.Config) *DatasetService {
	tileSize := cfg.Tiling.TileSize
	return &DatasetService{
		cfg:    cfg.Dataset,
		labels: cfg.Labels,
		tiler: NewTiler(FixedGrid{Count: cfg.Tiling.GridCount, TileSize: tileSize},
			cfg.Dataset.Workers),
		converter: NewLabelConverter(cfg.Labels.ClassID, image.Point{X: tileSize, Y: tileSize},
			cfg.Dataset.Workers, NewMaskProcessor(cfg.Labels.MorphKernel)),
	}
}

// Layout 计算某个划分的目录：<base>/<split>、<base>/<split>_labels 等
func (s *DatasetService) Layout(split string) SplitLayout {
	base := s.cfg.BaseDir
	return SplitLayout{
		Name:       split,
		ImageDir:   filepath.Join(base, split),
		MaskDir:    filepath.Join(base, split+s.cfg.MaskSuffix),
		TileImages: filepath.Join(base, split+s.cfg.TileImageSuffix),
		TileMasks:  filepath.Join(base, split+s.cfg.TileMaskSuffix),
		LabelDir:   filepath.Join(base, split+s.cfg.LabelSuffix),
	}
}

// PrepareSplit 切分图像/掩码对，再把切片掩码转换为标注
func (s *DatasetService) PrepareSplit(ctx context.Context, layout SplitLayout) (SplitReport, error) {
	var report SplitReport

	tiles, err := s.tiler.TileDir(ctx, layout.ImageDir, layout.MaskDir, layout.TileImages, layout.TileMasks)
	report.Tiles = tiles
	if err != nil {
		return report, fmt.Errorf("failed to tile split %s: %w", layout.Name, err)
	}

	labels, err := s.converter.ConvertDir(ctx, layout.TileMasks, layout.LabelDir)
	report.Labels = labels
	if err != nil {
		return report, fmt.Errorf("failed to convert split %s: %w", layout.Name, err)
	}

	return report, nil
}

// Prepare 处理全部已存在的划分并写出 dataset.yaml。缺失的划分目录只记录警告。
func (s *DatasetService) Prepare(ctx context.Context) (*DatasetReport, error) {
	report := &DatasetReport{Splits: make(map[string]SplitReport)}
	prepared := make(map[string]string)

	for _, split := range s.cfg.Splits {
		layout := s.Layout(split)
		if info, err := os.Stat(layout.ImageDir); err != nil || !info.IsDir() {
			utils.Logger.Warn("split directory missing", zap.String("split", split), zap.String("dir", layout.ImageDir))
			continue
		}

		utils.Logger.Info("preparing split", zap.String("split", split))
		sr, err := s.PrepareSplit(ctx, layout)
		report.Splits[split] = sr
		if err != nil {
			return report, err
		}
		prepared[split] = filepath.Base(layout.TileImages)
	}

	descriptor := DatasetDescriptor{
		Path:  s.cfg.BaseDir,
		Train: prepared["train"],
		Val:   prepared["val"],
		Test:  prepared["test"],
		NC:    len(s.labels.ClassNames),
		Names: s.labels.ClassNames,
	}
	path := filepath.Join(s.cfg.BaseDir, s.cfg.DescriptorName)
	if err := WriteDescriptor(path, descriptor); err != nil {
		return report, err
	}
	report.Descriptor = path

	return report, nil
}

// WriteDescriptor 写出 dataset.yaml
func WriteDescriptor(path string, d DatasetDescriptor) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal dataset descriptor: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write dataset descriptor %s: %w", path, err)
	}
	return nil
}

// ReadDescriptor 读取 dataset.yaml
func ReadDescriptor(path string) (*DatasetDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d DatasetDescriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse dataset descriptor %s: %w", path, err)
	}
	return &d, nil
}
