//go:build !gocv
// +build !gocv

package service

import (
	"testing"

	"github.com/TIANLI0/CellOverlay/config"
	"github.com/stretchr/testify/require"
)

func TestNewCompositorOpenCVNeedsBuildTag(t *testing.T) {
	c, err := NewCompositor(&config.OverlayConfig{Alpha: 0.7, Engine: "opencv"})
	require.Error(t, err)
	require.Nil(t, c)
}
