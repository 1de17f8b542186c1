package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/TIANLI0/CellOverlay/config"
	"github.com/TIANLI0/CellOverlay/model"
	"github.com/TIANLI0/CellOverlay/service"
	"github.com/TIANLI0/CellOverlay/utils"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	msgSuccess       = "Segmentation successful!"
	msgNoFile        = "No image file provided"
	msgNoSelection   = "No selected file"
	msgEmptyFile     = "Uploaded file is empty"
	msgInvalidImage  = "Invalid image"
	msgSegmentFailed = "Segmentation failed or no mask detected"
	msgStorageFailed = "Failed to save processed image"
	msgBusy          = "Server is busy, please retry later"
)

type SegmentHandler struct {
	cfg      *config.Config
	segment  *service.SegmentService
	uploads  *service.OverlayStore
	overlays *service.OverlayStore
	cache    *service.ResultCache
	history  *service.HistoryStore
}

// NewSegmentHandler history 可以为 nil（未启用历史记录）
func NewSegmentHandler(cfg *config.Config, segment *service.SegmentService, uploads, overlays *service.OverlayStore,
	cache *service.ResultCache, history *service.HistoryStore) *SegmentHandler {
	return &SegmentHandler{
		cfg:      cfg,
		segment:  segment,
		uploads:  uploads,
		overlays: overlays,
		cache:    cache,
		history:  history,
	}
}

// Segment 处理 POST /segment
func (h *SegmentHandler) Segment(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		// 空文件名的文件部分会被当作普通表单字段
		if _, ok := c.GetPostForm("image"); ok {
			utils.Logger.Warn("empty filename received")
			respondError(c, http.StatusBadRequest, msgNoSelection)
			return
		}
		utils.Logger.Warn("no image file provided in request", zap.Error(err))
		respondError(c, http.StatusBadRequest, msgNoFile)
		return
	}
	if file.Filename == "" {
		respondError(c, http.StatusBadRequest, msgNoSelection)
		return
	}
	if file.Size == 0 {
		respondError(c, http.StatusBadRequest, msgEmptyFile)
		return
	}

	// 验证文件大小
	if file.Size > h.cfg.Upload.MaxSize {
		respondError(c, http.StatusBadRequest,
			fmt.Sprintf("File exceeds size limit (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)))
		return
	}

	f, err := file.Open()
	if err != nil {
		utils.Logger.Error("failed to open uploaded file", zap.Error(err))
		respondError(c, http.StatusBadRequest, msgNoFile)
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		utils.Logger.Error("failed to read uploaded file", zap.Error(err))
		respondError(c, http.StatusBadRequest, msgNoFile)
		return
	}

	// 验证文件类型
	contentType := file.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !h.isAllowedType(contentType) {
		respondError(c, http.StatusBadRequest, "Unsupported file type: "+contentType)
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	uploadName, err := h.uploads.Save("", ext, data)
	if err != nil {
		utils.Logger.Error("failed to save upload", zap.Error(err))
		respondError(c, http.StatusInternalServerError, msgStorageFailed)
		return
	}
	if h.cfg.Upload.CleanupTempFiles {
		defer func() {
			if err := h.uploads.Remove(uploadName); err != nil {
				utils.Logger.Warn("failed to delete temp file",
					zap.String("file", uploadName),
					zap.Error(err))
			}
		}()
	}

	md5 := utils.BytesMD5(data)
	ctx := c.Request.Context()

	utils.Logger.Info("image received",
		zap.String("filename", file.Filename),
		zap.String("upload", uploadName),
		zap.String("md5", md5),
		zap.Int64("size", file.Size))

	if cached := h.cachedResult(ctx, md5); cached != nil {
		utils.Logger.Info("cache hit", zap.String("md5", md5))
		h.respondOverlay(c, cached)
		return
	}

	result, err := h.segment.Process(ctx, data, file.Filename)
	if err != nil {
		status, msg := errorStatus(err)
		utils.Logger.Error("segmentation failed",
			zap.String("md5", md5),
			zap.Int("status", status),
			zap.Error(err))
		respondError(c, status, msg)
		return
	}

	if err := h.cache.Set(ctx, md5, result); err != nil {
		utils.Logger.Warn("failed to set cache", zap.Error(err))
	}
	if h.history != nil {
		if err := h.history.Record(ctx, uploadName, result); err != nil {
			utils.Logger.Warn("failed to record history", zap.Error(err))
		}
	}

	h.respondOverlay(c, result)
}

// GetByMD5 根据上传内容MD5查询叠加结果
func (h *SegmentHandler) GetByMD5(c *gin.Context) {
	md5 := c.Param("md5")
	if md5 == "" {
		c.JSON(http.StatusBadRequest, model.QueryResponse{Message: "md5 is required"})
		return
	}

	result, err := h.cache.Get(c.Request.Context(), md5)
	if err != nil {
		utils.Logger.Error("failed to get overlay result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.QueryResponse{Message: "query failed"})
		return
	}
	if result == nil || !h.overlays.Exists(result.OverlayFile) {
		c.JSON(http.StatusNotFound, model.QueryResponse{Message: "overlay not found"})
		return
	}

	c.JSON(http.StatusOK, model.QueryResponse{
		Success: true,
		Message: "ok",
		Data:    result,
	})
}

// History 返回最近的叠加记录
func (h *SegmentHandler) History(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, model.QueryResponse{Message: "history is disabled"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 200 {
		c.JSON(http.StatusBadRequest, model.QueryResponse{Message: "limit must be between 1 and 200"})
		return
	}

	entries, err := h.history.Recent(c.Request.Context(), limit)
	if err != nil {
		utils.Logger.Error("failed to query history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.QueryResponse{Message: "query failed"})
		return
	}

	c.JSON(http.StatusOK, model.QueryResponse{
		Success: true,
		Message: "ok",
		Data:    entries,
	})
}

func (h *SegmentHandler) cachedResult(ctx context.Context, md5 string) *model.OverlayResult {
	cached, err := h.cache.Get(ctx, md5)
	if err != nil {
		utils.Logger.Warn("failed to get cache", zap.Error(err))
		return nil
	}
	if cached == nil {
		return nil
	}
	if !h.overlays.Exists(cached.OverlayFile) {
		// 文件已被清理，缓存作废
		if err := h.cache.Delete(ctx, md5); err != nil {
			utils.Logger.Warn("failed to delete stale cache", zap.Error(err))
		}
		return nil
	}
	return cached
}

func (h *SegmentHandler) respondOverlay(c *gin.Context, result *model.OverlayResult) {
	url := strings.TrimRight(h.cfg.Server.PublicURL, "/") + "/static/processed/" + result.OverlayFile
	utils.Logger.Info("overlayed image generated", zap.String("url", url))

	c.JSON(http.StatusOK, model.SegmentResponse{
		Message:        msgSuccess,
		OverlayedImage: url,
	})
}

func (h *SegmentHandler) isAllowedType(contentType string) bool {
	mediaType := strings.TrimSpace(strings.Split(contentType, ";")[0])
	for _, allowed := range h.cfg.Upload.AllowedTypes {
		if strings.EqualFold(mediaType, allowed) {
			return true
		}
	}
	return false
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrQueueFull):
		return http.StatusServiceUnavailable, msgBusy
	case errors.Is(err, service.ErrNoMask):
		return http.StatusInternalServerError, msgSegmentFailed
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, msgInvalidImage
	case errors.Is(err, service.ErrStorage):
		return http.StatusInternalServerError, msgStorageFailed
	default:
		return http.StatusInternalServerError, msgSegmentFailed
	}
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, model.ErrorResponse{Error: message})
}
