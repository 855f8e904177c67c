package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/TIANLI0/BuildingKit/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatasetPrepare(t *testing.T) {
	cfg := config.Default()
	cfg.Dataset.BaseDir = t.TempDir()
	cfg.Dataset.Workers = 2

	svc := NewDatasetService(cfg)
	train := svc.Layout("train")
	require.NoError(t, os.MkdirAll(train.ImageDir, 0755))
	require.NoError(t, os.MkdirAll(train.MaskDir, 0755))
	writePair(t, train.ImageDir, train.MaskDir, "area_7.png", 900, 900, 900, 900)

	report, err := svc.Prepare(context.Background())
	require.NoError(t, err)

	require.Contains(t, report.Splits, "train")
	assert.NotContains(t, report.Splits, "val")
	assert.Equal(t, 1, report.Splits["train"].Tiles.Processed)
	assert.Equal(t, 9, report.Splits["train"].Labels.Processed)

	// 标注与切片图像在同一目录
	assert.FileExists(t, filepath.Join(train.TileImages, "area_7_0_0.png"))
	assert.FileExists(t, filepath.Join(train.TileImages, "area_7_0_0.txt"))
	assert.FileExists(t, filepath.Join(train.TileMasks, "area_7_2_2.png"))

	records, err := ReadLabelFile(filepath.Join(train.LabelDir, "area_7_0_0.txt"))
	require.NoError(t, err)
	assert.Len(t, records, 1)

	empty, err := os.ReadFile(filepath.Join(train.LabelDir, "area_7_2_2.txt"))
	require.NoError(t, err)
	assert.Empty(t, empty)

	d, err := ReadDescriptor(report.Descriptor)
	require.NoError(t, err)
	assert.Equal(t, cfg.Dataset.BaseDir, d.Path)
	assert.Equal(t, "train_split_and_txt", d.Train)
	assert.Empty(t, d.Val)
	assert.Equal(t, 1, d.NC)
	assert.Equal(t, []string{"building"}, d.Names)
}

func TestDatasetLayout(t *testing.T) {
	cfg := config.Default()
	cfg.Dataset.BaseDir = "data"
	svc := NewDatasetService(cfg)

	l := svc.Layout("val")
	assert.Equal(t, filepath.Join("data", "val"), l.ImageDir)
	assert.Equal(t, filepath.Join("data", "val_labels"), l.MaskDir)
	assert.Equal(t, filepath.Join("data", "val_split_and_txt"), l.TileImages)
	assert.Equal(t, filepath.Join("data", "val_split_labels"), l.TileMasks)
	assert.Equal(t, l.TileImages, l.LabelDir)
}
