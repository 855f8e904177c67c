package model

import (
	"fmt"
	"image"
	"path/filepath"
	"strconv"
	"strings"
)

// Tile 源图像中的一个切片，按行列（从0开始，行优先）寻址
type Tile struct {
	Base   string          `json:"base"`
	Row    int             `json:"row"`
	Col    int             `json:"col"`
	Ext    string          `json:"ext"`
	Source image.Rectangle `json:"-"`
}

func (t Tile) Name() string {
	return TileName(t.Base, t.Row, t.Col, t.Ext)
}

// TileName 生成 {base}_{row}_{col}.{ext}
func TileName(base string, row, col int, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	return fmt.Sprintf("%s_%d_%d.%s", base, row, col, ext)
}

// ParseTileName 从切片文件名解析出 base、行、列和扩展名。base 本身可以包含下划线。
func ParseTileName(name string) (base string, row, col int, ext string, err error) {
	name = filepath.Base(name)
	ext = strings.TrimPrefix(filepath.Ext(name), ".")
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	parts := strings.Split(stem, "_")
	if len(parts) < 3 || ext == "" {
		return "", 0, 0, "", fmt.Errorf("not a tile name: %q", name)
	}

	row, err = strconv.Atoi(parts[len(parts)-2])
	if err != nil || row < 0 {
		return "", 0, 0, "", fmt.Errorf("not a tile name: %q", name)
	}
	col, err = strconv.Atoi(parts[len(parts)-1])
	if err != nil || col < 0 {
		return "", 0, 0, "", fmt.Errorf("not a tile name: %q", name)
	}

	base = strings.Join(parts[:len(parts)-2], "_")
	if base == "" {
		return "", 0, 0, "", fmt.Errorf("not a tile name: %q", name)
	}
	return base, row, col, ext, nil
}
