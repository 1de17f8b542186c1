package service

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/TIANLI0/CellOverlay/model"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// 检测框颜色，RGB 顺序下的蓝色
var boxColor = color.RGBA{R: 0, G: 0, B: 255, A: 255}

// Annotator 在图像副本上绘制检测框和置信度标签
type Annotator struct {
	label     string
	thickness int
	color     color.RGBA
	face      font.Face
}

func NewAnnotator(label string) *Annotator {
	return &Annotator{
		label:     label,
		thickness: 2,
		color:     boxColor,
		face:      basicfont.Face7x13,
	}
}

// Annotate 返回绘制了检测框的新图像，原图不变
func (a *Annotator) Annotate(img image.Image, detections []model.Detection) *image.RGBA {
	out := ToRGB(img)
	src := image.NewUniform(a.color)

	for _, det := range detections {
		r := image.Rect(det.X1, det.Y1, det.X2, det.Y2)
		a.drawRect(out, r, src)

		label := det.Label
		if label == "" {
			label = a.label
		}
		d := &font.Drawer{
			Dst:  out,
			Src:  src,
			Face: a.face,
			Dot:  fixed.P(r.Min.X, r.Min.Y-10),
		}
		d.DrawString(fmt.Sprintf("%s %.2f", label, det.Confidence))
	}
	return out
}

func (a *Annotator) drawRect(dst *image.RGBA, r image.Rectangle, src image.Image) {
	if r.Empty() {
		return
	}
	half := a.thickness / 2
	t := a.thickness
	edges := []image.Rectangle{
		image.Rect(r.Min.X-half, r.Min.Y-half, r.Max.X+half+1, r.Min.Y-half+t),
		image.Rect(r.Min.X-half, r.Max.Y-half, r.Max.X+half+1, r.Max.Y-half+t),
		image.Rect(r.Min.X-half, r.Min.Y-half, r.Min.X-half+t, r.Max.Y+half+1),
		image.Rect(r.Max.X-half, r.Min.Y-half, r.Max.X-half+t, r.Max.Y+half+1),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}
