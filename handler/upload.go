package handler

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/TIANLI0/BuildingKit/config"
	"github.com/TIANLI0/BuildingKit/model"
	"github.com/TIANLI0/BuildingKit/service"
	"github.com/TIANLI0/BuildingKit/utils"
	"github.com/TIANLI0/BuildingKit/viewer"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

type ViewerHandler struct {
	cfg     *config.Config
	session *viewer.Session
	cache   service.PredictionCache
}

// NewViewerHandler cache 可以为 nil
func NewViewerHandler(cfg *config.Config, session *viewer.Session, cache service.PredictionCache) *ViewerHandler {
	return &ViewerHandler{
		cfg:     cfg,
		session: session,
		cache:   cache,
	}
}

// Upload 处理图片上传。文件按内容 MD5 命名保存，同一图片重复上传会被忽略。
func (h *ViewerHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		utils.Logger.Error("failed to get uploaded file", zap.Error(err))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "请上传图片文件",
			Error:   err.Error(),
		})
		return
	}

	// 验证文件大小
	if file.Size > h.cfg.Upload.MaxSize {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: fmt.Sprintf("文件大小超过限制 (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)),
		})
		return
	}

	// 验证文件类型
	contentType := file.Header.Get("Content-Type")
	if !h.isAllowedType(contentType) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "不支持的文件类型",
		})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "读取文件失败",
			Error:   err.Error(),
		})
		return
	}
	defer src.Close()

	// 只解析图像头，拒绝伪装成图片的文件
	_, format, err := image.DecodeConfig(src)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "无法识别的图片格式",
			Error:   err.Error(),
		})
		return
	}

	// 计算MD5
	var md5 string
	if _, err = src.Seek(0, io.SeekStart); err == nil {
		md5, err = utils.ReaderMD5(src)
	}
	if err != nil {
		utils.Logger.Error("failed to calculate md5", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "计算文件哈希失败",
			Error:   err.Error(),
		})
		return
	}

	if err := utils.EnsureDir(h.cfg.Upload.UploadDir); err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "创建上传目录失败",
			Error:   err.Error(),
		})
		return
	}

	savePath := filepath.Join(h.cfg.Upload.UploadDir, md5+strings.ToLower(filepath.Ext(file.Filename)))
	if err := c.SaveUploadedFile(file, savePath); err != nil {
		utils.Logger.Error("failed to save file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "保存文件失败",
			Error:   err.Error(),
		})
		return
	}

	utils.Logger.Info("file uploaded",
		zap.String("filename", file.Filename),
		zap.String("md5", md5),
		zap.String("format", format),
		zap.Int64("size", file.Size))

	if err := h.session.Upload(c.Request.Context(), savePath); err != nil {
		utils.Logger.Error("failed to process image", zap.Error(err))
		c.JSON(statusFor(err), model.ErrorResponse{
			Success: false,
			Message: "图片处理失败",
			Error:   err.Error(),
		})
		return
	}

	result, _ := h.session.Store().Result(md5)
	c.JSON(http.StatusOK, model.UploadResponse{
		Success: true,
		Message: "处理成功",
		Data:    result,
	})
}

// GetByMD5 根据MD5获取推理结果，先查会话再查缓存
func (h *ViewerHandler) GetByMD5(c *gin.Context) {
	md5 := c.Param("md5")
	if md5 == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "MD5参数缺失",
		})
		return
	}

	if result, ok := h.session.Store().Result(md5); ok {
		c.JSON(http.StatusOK, model.UploadResponse{
			Success: true,
			Message: "查询成功",
			Data:    result,
		})
		return
	}

	var result *model.PredictionResult
	if h.cache != nil {
		var err error
		result, err = h.cache.GetPrediction(c.Request.Context(), md5)
		if err != nil {
			utils.Logger.Error("failed to get prediction", zap.Error(err))
			c.JSON(http.StatusInternalServerError, model.ErrorResponse{
				Success: false,
				Message: "查询失败",
				Error:   err.Error(),
			})
			return
		}
	}

	if result == nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Success: false,
			Message: "未找到该图片的检测结果",
		})
		return
	}

	c.JSON(http.StatusOK, model.UploadResponse{
		Success: true,
		Message: "查询成功（来自缓存）",
		Data:    result,
	})
}

func (h *ViewerHandler) isAllowedType(contentType string) bool {
	for _, allowed := range h.cfg.Upload.AllowedTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}

// statusFor 把业务错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, viewer.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, service.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, viewer.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, viewer.ErrNoImage), errors.Is(err, service.ErrUnreadableImage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
