package service

import (
	"context"
	"image"
	"time"

	"github.com/TIANLI0/CellOverlay/config"
	"github.com/TIANLI0/CellOverlay/model"
	"github.com/TIANLI0/CellOverlay/utils"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// SegmentService 负责分割、画框、掩码叠加和结果落盘
type SegmentService struct {
	segmenter    Segmenter
	compositor   Compositor
	annotator    *Annotator
	store        *OverlayStore
	semaphore    chan struct{}
	queueTimeout time.Duration
}

func NewSegmentService(cfg *config.SegmenterConfig, segmenter Segmenter, compositor Compositor, store *OverlayStore) *SegmentService {
	return &SegmentService{
		segmenter:    segmenter,
		compositor:   compositor,
		annotator:    NewAnnotator(cfg.Label),
		store:        store,
		semaphore:    make(chan struct{}, cfg.MaxConcurrent),
		queueTimeout: cfg.QueueTimeout,
	}
}

// Process 处理一张上传图像。任何一步失败都不会留下部分结果。
func (s *SegmentService) Process(ctx context.Context, imageData []byte, filename string) (*model.OverlayResult, error) {
	// 并发控制
	waitCtx, cancel := context.WithTimeout(ctx, s.queueTimeout)
	defer cancel()

	select {
	case s.semaphore <- struct{}{}:
		defer func() { <-s.semaphore }()
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrQueueFull
	}

	startTime := time.Now()
	md5 := utils.BytesMD5(imageData)

	img, err := DecodeImage(imageData)
	if err != nil {
		return nil, err
	}
	width, height := img.Bounds().Dx(), img.Bounds().Dy()

	utils.Logger.Info("processing image",
		zap.String("md5", md5),
		zap.Int("width", width),
		zap.Int("height", height))

	seg, err := s.segmenter.Segment(ctx, imageData, filename)
	if err != nil {
		return nil, errors.Wrap(err, "segmentation failed")
	}
	if seg == nil || seg.Mask == nil {
		return nil, ErrNoMask
	}

	annotated := s.annotator.Annotate(img, seg.Detections)

	mask, err := FitMask(seg.Mask, width, height)
	if err != nil {
		return nil, err
	}

	overlay, err := s.compositor.Composite(annotated, mask)
	if err != nil {
		return nil, err
	}

	result := &model.OverlayResult{
		MD5:        md5,
		Width:      width,
		Height:     height,
		Detections: seg.Detections,
		Timestamp:  time.Now().Unix(),
	}
	if err := s.persist(result, mask, annotated, overlay); err != nil {
		return nil, err
	}

	utils.Logger.Info("overlay generated",
		zap.String("md5", md5),
		zap.String("overlay", result.OverlayFile),
		zap.Int("detections", len(seg.Detections)),
		zap.Duration("duration", time.Since(startTime)))

	return result, nil
}

// persist 依次保存掩码、画框图和叠加图，失败时删除已写入的文件
func (s *SegmentService) persist(result *model.OverlayResult, mask, annotated, overlay image.Image) error {
	outputs := []struct {
		prefix string
		img    image.Image
		name   *string
	}{
		{"mask", mask, &result.MaskFile},
		{"bbox", annotated, &result.BBoxFile},
		{"overlay", overlay, &result.OverlayFile},
	}

	var saved []string
	for _, o := range outputs {
		name, err := s.store.SavePNG(o.prefix, o.img)
		if err != nil {
			for _, n := range saved {
				if rerr := s.store.Remove(n); rerr != nil {
					utils.Logger.Warn("failed to remove partial output",
						zap.String("file", n), zap.Error(rerr))
				}
			}
			return err
		}
		saved = append(saved, name)
	}
	for i, o := range outputs {
		*o.name = saved[i]
	}
	return nil
}
