package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/TIANLI0/CellOverlay/config"
	"github.com/TIANLI0/CellOverlay/model"
	"github.com/TIANLI0/CellOverlay/utils"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Segmentation 分割模型的输出，Mask 为 nil 表示没有检测到目标
type Segmentation struct {
	Detections []model.Detection
	Mask       *image.Gray
}

// Segmenter 外部检测/分割模型。进程启动时创建一次，注入到 SegmentService。
type Segmenter interface {
	Segment(ctx context.Context, imageData []byte, filename string) (*Segmentation, error)
}

// HTTPSegmenter 通过 HTTP 调用推理服务
type HTTPSegmenter struct {
	inferenceURL string
	confidence   float64
	client       *http.Client
}

var _ Segmenter = &HTTPSegmenter{}

func NewHTTPSegmenter(cfg *config.SegmenterConfig) *HTTPSegmenter {
	return &HTTPSegmenter{
		inferenceURL: cfg.InferenceURL,
		confidence:   cfg.Confidence,
		client:       &http.Client{Timeout: cfg.Timeout},
	}
}

// inferenceResponse 推理服务的响应。
// masks 为概率图列表（取第一个），mask_png 为 base64 编码的灰度PNG。
type inferenceResponse struct {
	Detections []model.Detection `json:"detections"`
	Masks      [][][]float64     `json:"masks"`
	MaskPNG    string            `json:"mask_png"`
}

// Segment 以 multipart 上传图像并解析检测框和掩码
func (s *HTTPSegmenter) Segment(ctx context.Context, imageData []byte, filename string) (*Segmentation, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if filename == "" {
		filename = "image.png"
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, errors.Wrap(err, "create form file")
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, errors.Wrap(err, "copy image data")
	}
	if err := writer.WriteField("conf", strconv.FormatFloat(s.confidence, 'f', -1, 64)); err != nil {
		return nil, errors.Wrap(err, "write conf field")
	}
	if err := writer.WriteField("task", "segment"); err != nil {
		return nil, errors.Wrap(err, "write task field")
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, "close multipart writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.inferenceURL, body)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Errorf("inference failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}

	mask, err := result.mask()
	if err != nil {
		return nil, err
	}

	seg := &Segmentation{
		Detections: filterDetections(result.Detections, s.confidence),
		Mask:       mask,
	}
	utils.Logger.Info("segmentation received",
		zap.String("filename", filename),
		zap.Int("detections", len(seg.Detections)),
		zap.Bool("has_mask", seg.Mask != nil),
		zap.Duration("duration", time.Since(start)))
	return seg, nil
}

// CheckHealth 检查推理服务是否可用
func (s *HTTPSegmenter) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(s.inferenceURL, "/")+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("inference service unhealthy: %d", resp.StatusCode)
	}
	return nil
}

func (r *inferenceResponse) mask() (*image.Gray, error) {
	if len(r.Masks) > 0 && len(r.Masks[0]) > 0 {
		return ProbabilityMask(r.Masks[0])
	}
	if r.MaskPNG == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(r.MaskPNG)
	if err != nil {
		return nil, errors.Wrap(err, "decode mask_png")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decode mask image")
	}
	return ToGray(img), nil
}

// ProbabilityMask 将 [0,1] 概率图转换为8位灰度掩码（乘255后截断）
func ProbabilityMask(probs [][]float64) (*image.Gray, error) {
	height := len(probs)
	if height == 0 || len(probs[0]) == 0 {
		return nil, errors.New("empty probability map")
	}
	width := len(probs[0])

	mask := image.NewGray(image.Rect(0, 0, width, height))
	for y, row := range probs {
		if len(row) != width {
			return nil, errors.Errorf("ragged probability map: row %d has %d values, want %d", y, len(row), width)
		}
		off := mask.PixOffset(0, y)
		for x, p := range row {
			v := p * 255
			switch {
			case v <= 0 || math.IsNaN(v):
				v = 0
			case v > 255:
				v = 255
			}
			mask.Pix[off+x] = uint8(v)
		}
	}
	return mask, nil
}

func filterDetections(detections []model.Detection, minConf float64) []model.Detection {
	filtered := make([]model.Detection, 0, len(detections))
	for _, det := range detections {
		if det.Confidence >= minConf {
			filtered = append(filtered, det)
		}
	}
	return filtered
}
