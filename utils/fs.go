package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureDir 创建输出目录，目录已存在时不报错
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// BaseName 返回去掉扩展名的文件名
func BaseName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// ListFiles 按扩展名列出目录下的文件（不递归），结果按文件名排序
func ListFiles(dir string, exts ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		for _, want := range exts {
			if ext == want {
				files = append(files, filepath.Join(dir, entry.Name()))
				break
			}
		}
	}
	return files, nil
}
