package handler

import (
	"net/http"

	"github.com/TIANLI0/BuildingKit/model"
	"github.com/TIANLI0/BuildingKit/utils"
	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ZoomRequest action 为 in/out，或直接给出 zoom
type ZoomRequest struct {
	Action string   `json:"action"`
	Zoom   *float64 `json:"zoom"`
}

// PanRequest 视图平移量
type PanRequest struct {
	DX int `json:"dx"`
	DY int `json:"dy"`
}

// State 返回查看器当前状态
func (h *ViewerHandler) State(c *gin.Context) {
	h.respondState(c, "查询成功")
}

// Images 返回缩略图列表
func (h *ViewerHandler) Images(c *gin.Context) {
	h.respondState(c, "查询成功")
}

// Select 切换当前图像
func (h *ViewerHandler) Select(c *gin.Context) {
	if err := h.session.Select(c.Param("id")); err != nil {
		h.respondError(c, err, "切换图像失败")
		return
	}
	h.respondState(c, "切换成功")
}

// View 以 PNG 返回当前缩放下的图像
func (h *ViewerHandler) View(c *gin.Context) {
	img, err := h.session.View()
	if err != nil {
		h.respondError(c, err, "没有可显示的图像")
		return
	}

	c.Header("Content-Type", "image/png")
	c.Status(http.StatusOK)
	if err := imaging.Encode(c.Writer, img, imaging.PNG); err != nil {
		utils.Logger.Error("failed to encode view", zap.Error(err))
	}
}

// Zoom 放大、缩小或设置缩放比例
func (h *ViewerHandler) Zoom(c *gin.Context) {
	var req ZoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "参数错误",
			Error:   err.Error(),
		})
		return
	}

	var err error
	switch {
	case req.Zoom != nil:
		_, err = h.session.SetZoom(*req.Zoom)
	case req.Action == "in":
		_, err = h.session.ZoomIn()
	case req.Action == "out":
		_, err = h.session.ZoomOut()
	default:
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "action 只能为 in 或 out",
		})
		return
	}
	if err != nil {
		h.respondError(c, err, "缩放失败")
		return
	}
	h.respondState(c, "缩放成功")
}

// Toggle 切换原图/检测结果
func (h *ViewerHandler) Toggle(c *gin.Context) {
	if _, err := h.session.Toggle(); err != nil {
		h.respondError(c, err, "切换失败")
		return
	}
	h.respondState(c, "切换成功")
}

// Pan 平移视图
func (h *ViewerHandler) Pan(c *gin.Context) {
	var req PanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "参数错误",
			Error:   err.Error(),
		})
		return
	}
	if _, err := h.session.Pan(req.DX, req.DY); err != nil {
		h.respondError(c, err, "平移失败")
		return
	}
	h.respondState(c, "平移成功")
}

// Register 注册 /api/v1 下的路由
func (h *ViewerHandler) Register(api *gin.RouterGroup) {
	api.POST("/upload", h.Upload)
	api.GET("/prediction/:md5", h.GetByMD5)
	api.GET("/images", h.Images)
	api.POST("/images/:id/select", h.Select)
	api.GET("/state", h.State)
	api.GET("/view", h.View)
	api.POST("/view/zoom", h.Zoom)
	api.POST("/view/toggle", h.Toggle)
	api.POST("/view/pan", h.Pan)
}

func (h *ViewerHandler) respondState(c *gin.Context, message string) {
	state := h.session.Snapshot()
	c.JSON(http.StatusOK, model.ViewResponse{
		Success: true,
		Message: message,
		Data:    &state,
	})
}

func (h *ViewerHandler) respondError(c *gin.Context, err error, message string) {
	c.JSON(statusFor(err), model.ErrorResponse{
		Success: false,
		Message: message,
		Error:   err.Error(),
	})
}
