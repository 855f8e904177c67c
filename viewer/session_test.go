package viewer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sync"
	"testing"

	"github.com/TIANLI0/BuildingKit/config"
	"github.com/TIANLI0/BuildingKit/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	mu      sync.Mutex
	calls   int
	tiles   int
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeProcessor) Process(ctx context.Context, path string, progress func(model.Stage)) (*model.PredictionOutcome, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}

	id := "md5-" + filepath.Base(path)
	name := filepath.Base(path)
	det := []model.Detection{{Box: model.BBox{X: 1, Y: 1, Width: 4, Height: 4}, Confidence: 0.9}}

	outcome := &model.PredictionOutcome{
		Result: &model.PredictionResult{ImageID: id, Name: name},
		Source: model.ImageResult{ID: id, Name: name, Path: path, Raw: image.NewRGBA(image.Rect(0, 0, 100, 50))},
	}
	if f.tiles == 0 {
		progress(model.StagePredicting)
		outcome.Source.Predicted = image.NewRGBA(image.Rect(0, 0, 100, 50))
		outcome.Source.Detections = det
		outcome.Result.Detections = det
		return outcome, nil
	}

	progress(model.StageTiling)
	progress(model.StagePredicting)
	outcome.Result.Tiled = true
	for i := 0; i < f.tiles; i++ {
		tileName := fmt.Sprintf("tile_0_%d.png", i)
		dets := make([]model.Detection, i+1)
		outcome.Tiles = append(outcome.Tiles, model.ImageResult{
			ID:         id + ":" + tileName,
			Name:       tileName,
			Raw:        image.NewRGBA(image.Rect(0, 0, 64, 64)),
			Predicted:  image.NewRGBA(image.Rect(0, 0, 64, 64)),
			Detections: dets,
		})
	}
	return outcome, nil
}

func newTestSession(p Processor) *Session {
	return NewSession(p, config.Default().Viewer)
}

func TestUploadWholeImage(t *testing.T) {
	s := newTestSession(&fakeProcessor{})
	var states []State
	s.OnStateChange(func(st State) { states = append(states, st) })

	assert.Equal(t, Idle, s.State())
	require.NoError(t, s.Upload(context.Background(), "/data/a.png"))

	assert.Equal(t, []State{ImageLoaded, Predicting, Displaying}, states)
	assert.Equal(t, Displaying, s.State())

	snap := s.Snapshot()
	assert.Equal(t, "md5-a.png", snap.CurrentID)
	assert.Equal(t, 1, snap.Count)
	assert.Equal(t, 1.0, snap.Zoom)
	assert.False(t, snap.ShowingRaw)
	require.Len(t, snap.Images, 1)
	assert.Equal(t, "a.png", snap.Images[0].Name)
}

func TestUploadTiledImage(t *testing.T) {
	s := newTestSession(&fakeProcessor{tiles: 4})
	var states []State
	s.OnStateChange(func(st State) { states = append(states, st) })

	require.NoError(t, s.Upload(context.Background(), "/data/big.png"))
	assert.Equal(t, []State{ImageLoaded, Tiling, Predicting, Displaying}, states)

	snap := s.Snapshot()
	assert.Equal(t, "md5-big.png:tile_0_0.png", snap.CurrentID)
	require.Len(t, snap.Images, 4)
	for _, th := range snap.Images {
		assert.Equal(t, "md5-big.png", th.Parent)
	}
	assert.Equal(t, 1, snap.Count)

	// 父条目记录全部切片
	parent, ok := s.Store().Get("md5-big.png")
	require.True(t, ok)
	assert.Len(t, parent.Tiles, 4)
	for _, id := range parent.Tiles {
		_, ok := s.Store().Get(id)
		assert.True(t, ok)
	}

	require.NoError(t, s.Select("md5-big.png:tile_0_3.png"))
	assert.Equal(t, 4, s.Snapshot().Count)

	require.NoError(t, s.Select("md5-big.png"))
	assert.Equal(t, "md5-big.png:tile_0_0.png", s.Snapshot().CurrentID)
}

func TestFirstUploadStaysCurrent(t *testing.T) {
	s := newTestSession(&fakeProcessor{})
	require.NoError(t, s.Upload(context.Background(), "/data/a.png"))
	require.NoError(t, s.Upload(context.Background(), "/data/b.png"))

	snap := s.Snapshot()
	assert.Equal(t, "md5-a.png", snap.CurrentID)
	assert.Len(t, snap.Images, 2)
}

func TestDuplicateUploadIgnored(t *testing.T) {
	p := &fakeProcessor{}
	s := newTestSession(p)
	require.NoError(t, s.Upload(context.Background(), "/data/a.png"))
	require.NoError(t, s.Upload(context.Background(), "/data/a.png"))

	assert.Equal(t, 1, p.calls)
	assert.Len(t, s.Snapshot().Images, 1)
}

func TestUploadWhileBusy(t *testing.T) {
	p := &fakeProcessor{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := newTestSession(p)

	done := make(chan error, 1)
	go func() { done <- s.Upload(context.Background(), "/data/a.png") }()
	<-p.entered

	assert.True(t, s.State().Busy())
	assert.ErrorIs(t, s.Upload(context.Background(), "/data/b.png"), ErrBusy)

	close(p.block)
	require.NoError(t, <-done)
	assert.Equal(t, Displaying, s.State())
}

func TestUploadFailureRestoresState(t *testing.T) {
	p := &fakeProcessor{err: errors.New("broken")}
	s := newTestSession(p)

	assert.Error(t, s.Upload(context.Background(), "/data/a.png"))
	assert.Equal(t, Idle, s.State())
	assert.Zero(t, s.Store().Len())
}

func TestZoomClamping(t *testing.T) {
	s := newTestSession(&fakeProcessor{})

	_, err := s.ZoomIn()
	assert.ErrorIs(t, err, ErrNoImage)

	require.NoError(t, s.Upload(context.Background(), "/data/a.png"))

	for i := 0; i < 20; i++ {
		_, err := s.ZoomIn()
		require.NoError(t, err)
	}
	assert.Equal(t, 2.0, s.Zoom())

	for i := 0; i < 30; i++ {
		_, err := s.ZoomOut()
		require.NoError(t, err)
	}
	assert.Equal(t, 0.2, s.Zoom())

	z, err := s.ZoomIn()
	require.NoError(t, err)
	assert.Equal(t, 0.3, z)

	z, err = s.SetZoom(7)
	require.NoError(t, err)
	assert.Equal(t, 2.0, z)
}

func TestSelectResetsView(t *testing.T) {
	s := newTestSession(&fakeProcessor{})
	require.NoError(t, s.Upload(context.Background(), "/data/a.png"))
	require.NoError(t, s.Upload(context.Background(), "/data/b.png"))

	_, err := s.SetZoom(1.5)
	require.NoError(t, err)
	raw, err := s.Toggle()
	require.NoError(t, err)
	assert.True(t, raw)
	_, err = s.Pan(10, -5)
	require.NoError(t, err)

	require.NoError(t, s.Select("md5-b.png"))
	snap := s.Snapshot()
	assert.Equal(t, "md5-b.png", snap.CurrentID)
	assert.Equal(t, 1.0, snap.Zoom)
	assert.False(t, snap.ShowingRaw)
	assert.Zero(t, snap.PanX)

	assert.ErrorIs(t, s.Select("nope"), ErrNotFound)
}

func TestView(t *testing.T) {
	s := newTestSession(&fakeProcessor{})
	_, err := s.View()
	assert.ErrorIs(t, err, ErrNoImage)

	require.NoError(t, s.Upload(context.Background(), "/data/a.png"))

	img, err := s.View()
	require.NoError(t, err)
	assert.Equal(t, image.Point{X: 100, Y: 50}, img.Bounds().Size())

	_, err = s.SetZoom(0.5)
	require.NoError(t, err)
	img, err = s.View()
	require.NoError(t, err)
	assert.Equal(t, image.Point{X: 50, Y: 25}, img.Bounds().Size())

	_, err = s.Toggle()
	require.NoError(t, err)
	img, err = s.View()
	require.NoError(t, err)
	assert.Equal(t, image.Point{X: 50, Y: 25}, img.Bounds().Size())
}

func TestPanAccumulates(t *testing.T) {
	s := newTestSession(&fakeProcessor{})
	require.NoError(t, s.Upload(context.Background(), "/data/a.png"))

	_, err := s.Pan(10, 5)
	require.NoError(t, err)
	p, err := s.Pan(-3, 2)
	require.NoError(t, err)
	assert.Equal(t, image.Point{X: 7, Y: 7}, p)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "tiling", Tiling.String())
	assert.Equal(t, "displaying", Displaying.String())
	assert.False(t, Displaying.Busy())
	assert.True(t, Predicting.Busy())
}
