//go:build gocv
// +build gocv

package service

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// CVCompositor 使用 OpenCV 完成加权求和
type CVCompositor struct {
	alpha            float64
	preserveUnmasked bool
}

func NewCVCompositor(alpha float64, preserveUnmasked bool) (*CVCompositor, error) {
	return &CVCompositor{
		alpha:            alpha,
		preserveUnmasked: preserveUnmasked,
	}, nil
}

func (c *CVCompositor) Composite(original image.Image, mask *image.Gray) (*image.RGBA, error) {
	if err := checkPair(original, mask); err != nil {
		return nil, err
	}

	rgba := ToRGB(original)
	width, height := rgba.Rect.Dx(), rgba.Rect.Dy()
	mb := mask.Bounds()

	// 打包成三通道，通道顺序保持 R,G,B
	rgb := make([]byte, width*height*3)
	colored := make([]byte, width*height*3)
	for y := 0; y < height; y++ {
		si := rgba.PixOffset(0, y)
		mi := mask.PixOffset(mb.Min.X, mb.Min.Y+y)
		di := y * width * 3
		for x := 0; x < width; x++ {
			copy(rgb[di:di+3], rgba.Pix[si:si+3])
			colored[di] = mask.Pix[mi]
			si += 4
			mi++
			di += 3
		}
	}

	src, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, rgb)
	if err != nil {
		return nil, errors.Wrap(err, "gocv.NewMatFromBytes")
	}
	defer src.Close()

	overlay, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, colored)
	if err != nil {
		return nil, errors.Wrap(err, "gocv.NewMatFromBytes")
	}
	defer overlay.Close()

	// 先在 CV_32S 上按定点权重求和，除法在Go中完成，保证与纯Go实现逐像素一致
	wa, wb := blendWeights(c.alpha)
	srcW := gocv.NewMat()
	defer srcW.Close()
	src.ConvertToWithParams(&srcW, gocv.MatTypeCV32SC3, float32(wa), blendScale/2)

	overlayW := gocv.NewMat()
	defer overlayW.Close()
	overlay.ConvertToWithParams(&overlayW, gocv.MatTypeCV32SC3, float32(wb), 0)

	sum := gocv.NewMat()
	defer sum.Close()
	gocv.Add(srcW, overlayW, &sum)

	weighted, err := sum.DataPtrInt32()
	if err != nil {
		return nil, errors.Wrap(err, "gocv.DataPtrInt32")
	}
	data := make([]byte, len(weighted))
	for i, v := range weighted {
		data[i] = normalize(v)
	}

	out := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		di := out.PixOffset(0, y)
		mi := mask.PixOffset(mb.Min.X, mb.Min.Y+y)
		si := y * width * 3
		for x := 0; x < width; x++ {
			if c.preserveUnmasked && mask.Pix[mi] == 0 {
				copy(out.Pix[di:di+3], rgb[si:si+3])
			} else {
				copy(out.Pix[di:di+3], data[si:si+3])
			}
			out.Pix[di+3] = 0xff
			di += 4
			mi++
			si += 3
		}
	}
	return out, nil
}

func normalize(v int32) uint8 {
	v /= blendScale
	if v > 0xff {
		return 0xff
	}
	if v < 0 {
		return 0
	}
	return uint8(v)
}
