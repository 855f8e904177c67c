package viewer

import (
	"context"
	"errors"
	"image"
	"math"
	"sync"

	"github.com/TIANLI0/BuildingKit/config"
	"github.com/TIANLI0/BuildingKit/model"
	"github.com/TIANLI0/BuildingKit/utils"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

var (
	ErrBusy     = errors.New("viewer is processing another image")
	ErrNotFound = errors.New("image not found")
	ErrNoImage  = errors.New("no image selected")
)

// State 查看器状态
type State int

const (
	Idle State = iota
	ImageLoaded
	Tiling
	Predicting
	Displaying
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ImageLoaded:
		return "image_loaded"
	case Tiling:
		return "tiling"
	case Predicting:
		return "predicting"
	case Displaying:
		return "displaying"
	}
	return "unknown"
}

// Busy 切片或推理进行中
func (s State) Busy() bool {
	return s == ImageLoaded || s == Tiling || s == Predicting
}

// Processor 上传图像的处理流水线
type Processor interface {
	Process(ctx context.Context, imagePath string, progress func(model.Stage)) (*model.PredictionOutcome, error)
}

// Session 一个查看器会话：上传、选择、缩放、平移与原图/结果切换
type Session struct {
	mu        sync.Mutex
	processor Processor
	store     *Store
	cfg       config.ViewerConfig

	state    State
	current  string
	showRaw  bool
	zoom     float64
	pan      image.Point
	listener func(State)
}

func NewSession(processor Processor, cfg config.ViewerConfig) *Session {
	return &Session{
		processor: processor,
		store:     NewStore(),
		cfg:       cfg,
		state:     Idle,
		zoom:      1,
	}
}

// OnStateChange 注册状态变化回调，回调在持锁之外执行
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = fn
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	fn := s.listener
	s.mu.Unlock()

	if fn != nil {
		fn(st)
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Store() *Store {
	return s.store
}

// Upload 处理一张图像并加入缩略图列表。已上传过的路径直接忽略；处理进行中时返回 ErrBusy。
// 第一张上传的图像（切片时为第一个切片）成为当前图像。
func (s *Session) Upload(ctx context.Context, path string) error {
	s.mu.Lock()
	if s.state.Busy() {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.store.HasPath(path) {
		s.mu.Unlock()
		utils.Logger.Debug("duplicate upload ignored", zap.String("path", path))
		return nil
	}
	previous := s.state
	s.state = ImageLoaded
	fn := s.listener
	s.mu.Unlock()

	if fn != nil {
		fn(ImageLoaded)
	}

	outcome, err := s.processor.Process(ctx, path, func(stage model.Stage) {
		switch stage {
		case model.StageTiling:
			s.setState(Tiling)
		case model.StagePredicting:
			s.setState(Predicting)
		}
	})
	if err != nil {
		utils.Logger.Error("failed to process upload", zap.String("path", path), zap.Error(err))
		s.setState(previous)
		return err
	}

	first := s.store.AddOutcome(path, outcome)

	s.mu.Lock()
	if s.current == "" {
		s.selectLocked(first)
	}
	s.mu.Unlock()

	utils.Logger.Info("image uploaded",
		zap.String("path", path),
		zap.String("id", outcome.Result.ImageID),
		zap.Int("tiles", len(outcome.Tiles)),
		zap.Int("buildings", outcome.Result.Count()))

	s.setState(Displaying)
	return nil
}

// Select 切换当前图像，缩放复位为 1 并显示推理结果。选择切片父条目时显示其第一个切片。
func (s *Session) Select(id string) error {
	e, ok := s.store.Get(id)
	if !ok {
		return ErrNotFound
	}
	if !e.Displayable() {
		id = e.Tiles[0]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectLocked(id)
	return nil
}

func (s *Session) selectLocked(id string) {
	s.current = id
	s.showRaw = false
	s.zoom = 1
	s.pan = image.Point{}
	if !s.state.Busy() {
		s.state = Displaying
	}
}

// Current 当前显示的条目
func (s *Session) Current() (*Entry, bool) {
	s.mu.Lock()
	id := s.current
	s.mu.Unlock()

	if id == "" {
		return nil, false
	}
	return s.store.Get(id)
}

// ZoomIn 放大一个步长，结果限制在 [min_zoom, max_zoom]
func (s *Session) ZoomIn() (float64, error) {
	return s.zoomBy(s.cfg.ZoomStep)
}

// ZoomOut 缩小一个步长
func (s *Session) ZoomOut() (float64, error) {
	return s.zoomBy(-s.cfg.ZoomStep)
}

func (s *Session) zoomBy(delta float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" {
		return s.zoom, ErrNoImage
	}
	s.zoom = s.clampZoom(s.zoom + delta)
	return s.zoom, nil
}

// SetZoom 直接设置缩放比例
func (s *Session) SetZoom(z float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" {
		return s.zoom, ErrNoImage
	}
	s.zoom = s.clampZoom(z)
	return s.zoom, nil
}

// clampZoom 保留两位小数，消除步进累加的浮点误差
func (s *Session) clampZoom(z float64) float64 {
	z = math.Round(z*100) / 100
	return math.Min(math.Max(z, s.cfg.MinZoom), s.cfg.MaxZoom)
}

func (s *Session) Zoom() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zoom
}

// Toggle 在原图与推理结果之间切换，返回切换后是否显示原图
func (s *Session) Toggle() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" {
		return s.showRaw, ErrNoImage
	}
	s.showRaw = !s.showRaw
	return s.showRaw, nil
}

// Pan 平移视图偏移
func (s *Session) Pan(dx, dy int) (image.Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" {
		return s.pan, ErrNoImage
	}
	s.pan = s.pan.Add(image.Point{X: dx, Y: dy})
	return s.pan, nil
}

// View 按当前缩放渲染当前图像
func (s *Session) View() (image.Image, error) {
	s.mu.Lock()
	id, showRaw, zoom := s.current, s.showRaw, s.zoom
	s.mu.Unlock()

	if id == "" {
		return nil, ErrNoImage
	}
	e, ok := s.store.Get(id)
	if !ok {
		return nil, ErrNotFound
	}

	img := e.Predicted
	if showRaw || img == nil {
		img = e.Raw
	}
	if img == nil {
		return nil, ErrNotFound
	}
	if zoom == 1 {
		return img, nil
	}

	b := img.Bounds()
	w := max(1, int(float64(b.Dx())*zoom))
	h := max(1, int(float64(b.Dy())*zoom))
	return imaging.Resize(img, w, h, imaging.Lanczos), nil
}

// Snapshot 当前显示状态
func (s *Session) Snapshot() model.ViewState {
	s.mu.Lock()
	st := model.ViewState{
		State:      s.state.String(),
		CurrentID:  s.current,
		ShowingRaw: s.showRaw,
		Zoom:       s.zoom,
		PanX:       s.pan.X,
		PanY:       s.pan.Y,
	}
	s.mu.Unlock()

	if e, ok := s.store.Get(st.CurrentID); ok {
		st.Count = len(e.Detections)
	}
	st.Images = s.store.Thumbnails()
	return st
}
