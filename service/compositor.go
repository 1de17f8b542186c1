package service

import (
	"image"
	"math"

	"github.com/TIANLI0/CellOverlay/config"
	"github.com/pkg/errors"
)

// 定点权重的分母，原图权重 0.7 对应 700
const blendScale = 1000

// Compositor 将单通道掩码以红色半透明方式叠加到原图
type Compositor interface {
	Composite(original image.Image, mask *image.Gray) (*image.RGBA, error)
}

// NewCompositor 按配置选择实现
func NewCompositor(cfg *config.OverlayConfig) (Compositor, error) {
	switch cfg.Engine {
	case "", "go":
		return NewBlendCompositor(cfg.Alpha, cfg.PreserveUnmasked), nil
	case "opencv":
		cv, err := NewCVCompositor(cfg.Alpha, cfg.PreserveUnmasked)
		if err != nil {
			return nil, err
		}
		return cv, nil
	default:
		return nil, errors.Errorf("unknown overlay engine %q", cfg.Engine)
	}
}

// BlendCompositor 纯Go实现。
// out = original*alpha + colorized*(1-alpha)，colorized 只有红色通道携带掩码强度，
// 四舍五入后截断到 [0,255]。所有像素都参与混合，掩码为0的区域同样变暗。
type BlendCompositor struct {
	alpha            float64
	preserveUnmasked bool
}

func NewBlendCompositor(alpha float64, preserveUnmasked bool) *BlendCompositor {
	return &BlendCompositor{
		alpha:            alpha,
		preserveUnmasked: preserveUnmasked,
	}
}

func (c *BlendCompositor) Composite(original image.Image, mask *image.Gray) (*image.RGBA, error) {
	if err := checkPair(original, mask); err != nil {
		return nil, err
	}

	src := ToRGB(original)
	mb := mask.Bounds()
	width, height := src.Rect.Dx(), src.Rect.Dy()
	wa, wb := blendWeights(c.alpha)

	out := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		mi := mask.PixOffset(mb.Min.X, mb.Min.Y+y)
		i := src.PixOffset(0, y)
		for x := 0; x < width; x++ {
			m := mask.Pix[mi]
			if m == 0 && c.preserveUnmasked {
				copy(out.Pix[i:i+3], src.Pix[i:i+3])
			} else {
				out.Pix[i] = blend(src.Pix[i], m, wa, wb)
				out.Pix[i+1] = blend(src.Pix[i+1], 0, wa, wb)
				out.Pix[i+2] = blend(src.Pix[i+2], 0, wa, wb)
			}
			out.Pix[i+3] = 0xff
			mi++
			i += 4
		}
	}
	return out, nil
}

func checkPair(original image.Image, mask *image.Gray) error {
	if original == nil {
		return errors.Wrap(ErrInvalidInput, "nil original image")
	}
	if mask == nil {
		return errors.Wrap(ErrInvalidInput, "nil mask")
	}
	ob, mb := original.Bounds(), mask.Bounds()
	if ob.Empty() {
		return errors.Wrap(ErrInvalidInput, "original image has no pixels")
	}
	if ob.Dx() != mb.Dx() || ob.Dy() != mb.Dy() {
		return errors.Wrapf(ErrInvalidInput, "mask is %dx%d, image is %dx%d",
			mb.Dx(), mb.Dy(), ob.Dx(), ob.Dy())
	}
	return nil
}

func blendWeights(alpha float64) (int, int) {
	wa := int(math.Round(alpha * blendScale))
	if wa < 0 {
		wa = 0
	}
	if wa > blendScale {
		wa = blendScale
	}
	return wa, blendScale - wa
}

func blend(a, b uint8, wa, wb int) uint8 {
	v := (wa*int(a) + wb*int(b) + blendScale/2) / blendScale
	if v > 0xff {
		return 0xff
	}
	return uint8(v)
}
