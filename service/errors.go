package service

import "github.com/pkg/errors"

var (
	// ErrUnreadableImage 图像或掩码无法读取/解码
	ErrUnreadableImage = errors.New("unreadable image")
	// ErrDimensionMismatch 图像与掩码尺寸不一致
	ErrDimensionMismatch = errors.New("image and mask dimensions differ")
	// ErrInvalidTileSize 切片尺寸或网格数非法
	ErrInvalidTileSize = errors.New("invalid tile geometry")
	// ErrQueueFull 等待推理槽位超时
	ErrQueueFull = errors.New("prediction queue is full")
)
