package viewer

import (
	"image"
	"sync"

	"github.com/TIANLI0/BuildingKit/model"
)

// Entry 一张可显示的图像及其推理结果。整图切片后，父条目只保留原图和 Tiles，切片条目的 Parent 指向父条目。
type Entry struct {
	ID         string
	Name       string
	Path       string
	Parent     string
	Raw        image.Image
	Predicted  image.Image
	Detections []model.Detection
	Tiles      []string
}

// Displayable 切片父条目不直接显示
func (e *Entry) Displayable() bool {
	return len(e.Tiles) == 0
}

// Store 以图像 ID 为键的条目表，保留插入顺序
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string
	paths   map[string]string
	results map[string]*model.PredictionResult
}

func NewStore() *Store {
	return &Store{
		entries: make(map[string]*Entry),
		paths:   make(map[string]string),
		results: make(map[string]*model.PredictionResult),
	}
}

// AddOutcome 把一次处理结果写入存储，返回首个可显示条目的 ID
func (s *Store) AddOutcome(path string, outcome *model.PredictionOutcome) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := outcome.Source
	parent := &Entry{
		ID:         src.ID,
		Name:       src.Name,
		Path:       path,
		Raw:        src.Raw,
		Predicted:  src.Predicted,
		Detections: src.Detections,
	}
	for _, t := range outcome.Tiles {
		parent.Tiles = append(parent.Tiles, t.ID)
	}

	s.put(parent)
	s.paths[path] = parent.ID
	if outcome.Result != nil {
		s.results[parent.ID] = outcome.Result
	}

	for _, t := range outcome.Tiles {
		s.put(&Entry{
			ID:         t.ID,
			Name:       t.Name,
			Path:       t.Path,
			Parent:     parent.ID,
			Raw:        t.Raw,
			Predicted:  t.Predicted,
			Detections: t.Detections,
		})
	}

	if len(parent.Tiles) > 0 {
		return parent.Tiles[0]
	}
	return parent.ID
}

func (s *Store) put(e *Entry) {
	if _, ok := s.entries[e.ID]; !ok {
		s.order = append(s.order, e.ID)
	}
	s.entries[e.ID] = e
}

func (s *Store) Get(id string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// Result 按图像 MD5 查找推理结果
func (s *Store) Result(id string) (*model.PredictionResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[id]
	return r, ok
}

// HasPath 判断该路径是否已上传过
func (s *Store) HasPath(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.paths[path]
	return ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Thumbnails 按插入顺序列出可显示条目
func (s *Store) Thumbnails() []model.Thumbnail {
	s.mu.RLock()
	defer s.mu.RUnlock()

	thumbs := make([]model.Thumbnail, 0, len(s.order))
	for _, id := range s.order {
		e := s.entries[id]
		if !e.Displayable() {
			continue
		}
		thumbs = append(thumbs, model.Thumbnail{
			ID:     e.ID,
			Name:   e.Name,
			Parent: e.Parent,
			Count:  len(e.Detections),
		})
	}
	return thumbs
}
