//go:build !gocv
// +build !gocv

package service

import (
	"image"

	"github.com/pkg/errors"
)

// CVCompositor 未启用 gocv 构建标签时的占位实现
type CVCompositor struct{}

// NewCVCompositor 返回错误，需要以 -tags gocv 构建
func NewCVCompositor(alpha float64, preserveUnmasked bool) (*CVCompositor, error) {
	_ = alpha
	_ = preserveUnmasked
	return nil, errors.New("opencv overlay engine requires the gocv build tag")
}

func (c *CVCompositor) Composite(original image.Image, mask *image.Gray) (*image.RGBA, error) {
	return nil, errors.New("opencv overlay engine requires the gocv build tag")
}
