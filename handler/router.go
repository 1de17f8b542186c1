package handler

import (
	"net/http"
	"path/filepath"

	"github.com/TIANLI0/CellOverlay/config"
	"github.com/TIANLI0/CellOverlay/middleware"
	"github.com/gin-gonic/gin"
)

// BuildInfo 版本信息
type BuildInfo struct {
	Version   string
	BuildTime string
	BuildID   string
	GitCommit string
	GitBranch string
}

// NewRouter 创建路由
func NewRouter(cfg *config.Config, h *SegmentHandler, info BuildInfo) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger("/health"))
	r.Use(middleware.CORS())
	r.MaxMultipartMemory = cfg.Upload.MaxSize

	// 静态文件服务
	r.StaticFile("/", filepath.Join(cfg.Server.StaticDir, "index.html"))
	r.Static("/static/js", filepath.Join(cfg.Server.StaticDir, "js"))
	r.Static("/static/uploads", cfg.Upload.UploadDir)
	r.Static("/static/processed", cfg.Upload.ProcessedDir)

	// 健康检查和版本信息
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": info.Version,
		})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    info.Version,
			"build_time": info.BuildTime,
			"build_id":   info.BuildID,
			"git_commit": info.GitCommit,
			"git_branch": info.GitBranch,
		})
	})

	r.POST("/segment", h.Segment)

	api := r.Group("/api/v1")
	{
		api.POST("/segment", h.Segment)
		api.GET("/overlay/:md5", h.GetByMD5)
		api.GET("/history", h.History)
	}

	return r
}
