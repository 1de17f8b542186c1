package service

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	xdraw "golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DecodeImage 解码上传的图像并按EXIF方向摆正
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(ErrInvalidInput, "empty image data")
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidInput, "decode image: %v", err)
	}
	if img.Bounds().Empty() {
		return nil, errors.Wrap(ErrInvalidInput, "image has no pixels")
	}
	return img, nil
}

// ToRGB 将任意图像转换为 R,G,B 顺序的不透明缓冲区，原点移到 (0,0)。
// 透明通道被丢弃，颜色取非预乘值。
func ToRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			si := src.PixOffset(b.Min.X, b.Min.Y+y)
			di := out.PixOffset(0, y)
			for x := 0; x < b.Dx(); x++ {
				out.Pix[di] = src.Pix[si]
				out.Pix[di+1] = src.Pix[si+1]
				out.Pix[di+2] = src.Pix[si+2]
				out.Pix[di+3] = 0xff
				si += 4
				di += 4
			}
		}
		return out
	}

	for y := 0; y < b.Dy(); y++ {
		di := out.PixOffset(0, y)
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			out.Pix[di] = c.R
			out.Pix[di+1] = c.G
			out.Pix[di+2] = c.B
			out.Pix[di+3] = 0xff
			di += 4
		}
	}
	return out
}

// ToGray 转换为8位灰度图，原点移到 (0,0)
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok && b.Min == (image.Point{}) {
		return g
	}
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(out, out.Bounds(), img, b.Min, xdraw.Src)
	return out
}

// FitMask 将掩码双线性缩放到 width x height，尺寸一致时原样返回
func FitMask(mask *image.Gray, width, height int) (*image.Gray, error) {
	if mask == nil {
		return nil, errors.Wrap(ErrInvalidInput, "nil mask")
	}
	if width <= 0 || height <= 0 || mask.Bounds().Empty() {
		return nil, errors.Wrapf(ErrInvalidInput, "cannot fit %v mask to %dx%d", mask.Bounds(), width, height)
	}
	mb := mask.Bounds()
	if mb.Dx() == width && mb.Dy() == height {
		return mask, nil
	}
	out := image.NewGray(image.Rect(0, 0, width, height))
	xdraw.BiLinear.Scale(out, out.Bounds(), mask, mb, xdraw.Src, nil)
	return out, nil
}
