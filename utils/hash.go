package utils

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
)

// FileMD5 计算文件MD5，作为图像的稳定标识和缓存键
func FileMD5(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	return ReaderMD5(file)
}

// ReaderMD5 计算数据流MD5
func ReaderMD5(r io.Reader) (string, error) {
	hash := md5.New()
	if _, err := io.Copy(hash, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// BytesMD5 计算字节数组MD5
func BytesMD5(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
