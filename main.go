package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/TIANLI0/BuildingKit/config"
	"github.com/TIANLI0/BuildingKit/handler"
	"github.com/TIANLI0/BuildingKit/middleware"
	"github.com/TIANLI0/BuildingKit/service"
	"github.com/TIANLI0/BuildingKit/utils"
	"github.com/TIANLI0/BuildingKit/viewer"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	BuildID   = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

func main() {
	// 加载配置
	cfg := config.New()

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	utils.Logger.Info("starting BuildingKit server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch))

	// 确保上传目录存在
	if err := utils.EnsureDir(cfg.Upload.UploadDir); err != nil {
		utils.Logger.Fatal("failed to create upload directory", zap.Error(err))
	}

	// 初始化Redis，连接失败时不使用缓存
	var cache service.PredictionCache
	if cfg.Redis.Enabled {
		redisService := service.NewRedisService(&cfg.Redis)
		if err := redisService.Ping(context.Background()); err != nil {
			utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
		} else {
			utils.Logger.Info("redis connected successfully")
			cache = redisService
		}
		defer redisService.Close()
	}

	// 加载检测模型
	detector, err := service.NewONNXDetector(cfg.Inference, cfg.Labels.ClassNames)
	if err != nil {
		utils.Logger.Fatal("failed to load detector", zap.String("model", cfg.Inference.ModelPath), zap.Error(err))
	}
	defer detector.Close()

	predictionService, err := service.NewPredictionService(cfg, detector, cache)
	if err != nil {
		utils.Logger.Fatal("failed to create prediction service", zap.Error(err))
	}

	session := viewer.NewSession(predictionService, cfg.Viewer)
	viewerHandler := handler.NewViewerHandler(cfg, session, cache)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	// 创建路由
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	// 静态文件服务
	if _, err := os.Stat("./static/index.html"); err == nil {
		r.Static("/static", "./static")
		r.StaticFile("/", "./static/index.html")
	}

	// 健康检查和版本信息
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": Version,
			"state":   session.State().String(),
		})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
			"build_id":   BuildID,
			"git_commit": GitCommit,
			"git_branch": GitBranch,
		})
	})

	// API路由
	viewerHandler.Register(r.Group("/api/v1"))

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动服务器
	utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		utils.Logger.Fatal("failed to start server", zap.Error(err))
	}
}
