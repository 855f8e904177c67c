package model

// UploadResponse 上传响应
type UploadResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    *PredictionResult `json:"data,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Thumbnail 缩略图列表项
type Thumbnail struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Parent string `json:"parent,omitempty"`
	Count  int    `json:"count"`
}

// ViewState 查看器当前显示状态
type ViewState struct {
	State      string      `json:"state"`
	CurrentID  string      `json:"current_id,omitempty"`
	ShowingRaw bool        `json:"showing_raw"`
	Zoom       float64     `json:"zoom"`
	PanX       int         `json:"pan_x"`
	PanY       int         `json:"pan_y"`
	Count      int         `json:"count"`
	Images     []Thumbnail `json:"images"`
}

// ViewResponse 查看器接口响应
type ViewResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Data    *ViewState `json:"data,omitempty"`
}
