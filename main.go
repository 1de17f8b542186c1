package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/TIANLI0/CellOverlay/config"
	"github.com/TIANLI0/CellOverlay/handler"
	"github.com/TIANLI0/CellOverlay/service"
	"github.com/TIANLI0/CellOverlay/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	BuildID   = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

var (
	flagConfig  = flag.String("config", "config.yaml", "path to the YAML config file")
	flagVersion = flag.Bool("version", false, "print version and exit")
)

func main() {
	flag.Parse()

	if *flagVersion {
		fmt.Printf("CellOverlay %s (commit %s, branch %s, built %s)\n", Version, GitCommit, GitBranch, BuildTime)
		return
	}

	// 加载配置
	cfg, err := config.Load(*flagConfig)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	utils.Logger.Info("starting CellOverlay server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch))

	if err := run(cfg); err != nil {
		utils.Logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	uploads, err := service.NewOverlayStore(cfg.Upload.UploadDir)
	if err != nil {
		return err
	}
	overlays, err := service.NewOverlayStore(cfg.Upload.ProcessedDir)
	if err != nil {
		return err
	}

	// 初始化缓存
	cache := service.NewResultCache(&cfg.Redis, &cfg.Cache)
	if err := cache.Ping(ctx); err != nil {
		utils.Logger.Warn("redis connection failed, using local cache only", zap.Error(err))
		cache.DisableRemote()
	} else if cfg.Redis.Enabled {
		utils.Logger.Info("redis connected successfully")
	}
	defer cache.Close()

	var history *service.HistoryStore
	if cfg.History.Enabled {
		history, err = service.NewHistoryStore(cfg.History.Path)
		if err != nil {
			return err
		}
		defer history.Close()
	}

	// 推理服务在启动时创建一次，之后注入到各请求
	segmenter := service.NewHTTPSegmenter(&cfg.Segmenter)
	if err := segmenter.CheckHealth(ctx); err != nil {
		utils.Logger.Warn("inference service not available", zap.Error(err))
	}

	compositor, err := service.NewCompositor(&cfg.Overlay)
	if err != nil {
		return err
	}

	segmentService := service.NewSegmentService(&cfg.Segmenter, segmenter, compositor, overlays)
	segmentHandler := handler.NewSegmentHandler(cfg, segmentService, uploads, overlays, cache, history)

	gin.SetMode(cfg.Server.Mode)
	router := handler.NewRouter(cfg, segmentHandler, handler.BuildInfo{
		Version:   Version,
		BuildTime: BuildTime,
		BuildID:   BuildID,
		GitCommit: GitCommit,
		GitBranch: GitBranch,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		utils.Logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
