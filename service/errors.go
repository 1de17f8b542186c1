package service

import "github.com/pkg/errors"

var (
	// ErrInvalidInput 图像无法解码、尺寸不匹配或上游未给出掩码
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoMask 分割模型没有返回掩码
	ErrNoMask = errors.Wrap(ErrInvalidInput, "no mask detected")
	// ErrStorage 写入输出目录失败
	ErrStorage = errors.New("storage error")
	// ErrQueueFull 等待处理槽位超时
	ErrQueueFull = errors.New("processing queue is full")
)
