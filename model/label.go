package model

import (
	"fmt"
	"strconv"
	"strings"
)

// LabelRecord 一条归一化的检测标注：class_id cx cy w h
type LabelRecord struct {
	ClassID int     `json:"class_id"`
	CenterX float64 `json:"cx"`
	CenterY float64 `json:"cy"`
	Width   float64 `json:"w"`
	Height  float64 `json:"h"`
}

// Valid 所有坐标都必须落在 [0,1]，否则说明坐标映射有误
func (r LabelRecord) Valid() bool {
	for _, v := range []float64{r.CenterX, r.CenterY, r.Width, r.Height} {
		if v < 0 || v > 1 {
			return false
		}
	}
	return true
}

func (r LabelRecord) String() string {
	return fmt.Sprintf("%d %s %s %s %s", r.ClassID,
		formatFloat(r.CenterX), formatFloat(r.CenterY),
		formatFloat(r.Width), formatFloat(r.Height))
}

// Denormalize 按给定图像尺寸还原像素边界框
func (r LabelRecord) Denormalize(width, height int) BBox {
	w := r.Width * float64(width)
	h := r.Height * float64(height)
	x := r.CenterX*float64(width) - w/2
	y := r.CenterY*float64(height) - h/2
	return BBox{
		X:      int(x + 0.5),
		Y:      int(y + 0.5),
		Width:  int(w + 0.5),
		Height: int(h + 0.5),
	}
}

// ParseLabelRecord 解析标注文件中的一行
func ParseLabelRecord(line string) (LabelRecord, error) {
	fields := strings.Fields(line)
	if len(fields) != 5 {
		return LabelRecord{}, fmt.Errorf("label line %q: expected 5 fields, got %d", line, len(fields))
	}

	classID, err := strconv.Atoi(fields[0])
	if err != nil {
		return LabelRecord{}, fmt.Errorf("label line %q: bad class id: %w", line, err)
	}

	var values [4]float64
	for i, f := range fields[1:] {
		values[i], err = strconv.ParseFloat(f, 64)
		if err != nil {
			return LabelRecord{}, fmt.Errorf("label line %q: bad coordinate: %w", line, err)
		}
	}

	return LabelRecord{
		ClassID: classID,
		CenterX: values[0],
		CenterY: values[1],
		Width:   values[2],
		Height:  values[3],
	}, nil
}

// FormatLabels 按行拼接标注记录，空列表得到空内容
func FormatLabels(records []LabelRecord) string {
	lines := make([]string, len(records))
	for i, r := range records {
		lines[i] = r.String()
	}
	return strings.Join(lines, "\n")
}

// ParseLabels 解析整个标注文件内容，忽略空行
func ParseLabels(content string) ([]LabelRecord, error) {
	var records []LabelRecord
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		r, err := ParseLabelRecord(line)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
