// Package ui 桌面查看器窗口：上传、缩略图列表、缩放与原图/结果切换
package ui

import (
	"context"
	"fmt"
	"image"

	"github.com/TIANLI0/BuildingKit/model"
	"github.com/TIANLI0/BuildingKit/utils"
	"github.com/TIANLI0/BuildingKit/viewer"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
	"go.uber.org/zap"
)

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp"}

// Window 查看器主窗口
type Window struct {
	fyne.Window
	session *viewer.Session

	image     *canvas.Image
	scroll    *container.Scroll
	list      *widget.List
	thumbs    []model.Thumbnail
	status    *widget.Label
	count     *widget.Label
	zoomLabel *widget.Label
	toggleBtn *widget.Button
}

// New 创建窗口并订阅会话状态变化
func New(fyneApp fyne.App, session *viewer.Session, width, height int) *Window {
	w := &Window{
		Window:  fyneApp.NewWindow("BuildingKit Viewer"),
		session: session,
	}
	w.setupUI()
	w.Resize(fyne.NewSize(float32(width), float32(height)))

	session.OnStateChange(func(st viewer.State) {
		w.refresh()
	})
	w.refresh()
	return w
}

func (w *Window) setupUI() {
	w.image = canvas.NewImageFromImage(nil)
	w.image.FillMode = canvas.ImageFillContain
	w.scroll = container.NewScroll(w.image)

	w.status = widget.NewLabel(viewer.Idle.String())
	w.count = widget.NewLabel("")
	w.zoomLabel = widget.NewLabel("")

	w.list = widget.NewList(
		func() int {
			return len(w.thumbs)
		},
		func() fyne.CanvasObject {
			return widget.NewLabel("image")
		},
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			if id < len(w.thumbs) {
				th := w.thumbs[id]
				obj.(*widget.Label).SetText(fmt.Sprintf("%s (%d)", th.Name, th.Count))
			}
		},
	)
	w.list.OnSelected = func(id widget.ListItemID) {
		if id >= len(w.thumbs) {
			return
		}
		if err := w.session.Select(w.thumbs[id].ID); err != nil {
			dialog.ShowError(err, w.Window)
			return
		}
		w.refresh()
	}

	uploadBtn := widget.NewButton("上传图片", w.onUpload)
	w.toggleBtn = widget.NewButton("显示原图", func() {
		if _, err := w.session.Toggle(); err != nil {
			return
		}
		w.refresh()
	})
	zoomInBtn := widget.NewButton("+", func() {
		if _, err := w.session.ZoomIn(); err == nil {
			w.refresh()
		}
	})
	zoomOutBtn := widget.NewButton("-", func() {
		if _, err := w.session.ZoomOut(); err == nil {
			w.refresh()
		}
	})

	toolbar := container.NewHBox(
		uploadBtn,
		w.toggleBtn,
		widget.NewLabel("缩放:"),
		zoomOutBtn,
		zoomInBtn,
		w.zoomLabel,
	)

	canvasArea := container.NewBorder(toolbar, nil, nil, nil, w.scroll)
	split := container.NewHSplit(w.list, canvasArea)
	split.SetOffset(0.2)

	w.SetContent(container.NewBorder(
		nil,
		container.NewHBox(w.status, w.count),
		nil,
		nil,
		split,
	))
}

func (w *Window) onUpload() {
	fd := dialog.NewFileOpen(func(reader fyne.URIReadCloser, err error) {
		if err != nil || reader == nil {
			return
		}
		reader.Close()
		path := reader.URI().Path()

		go func() {
			if err := w.Upload(context.Background(), path); err != nil {
				dialog.ShowError(err, w.Window)
			}
		}()
	}, w.Window)
	fd.SetFilter(storage.NewExtensionFileFilter(imageExtensions))
	fd.Show()
}

// Upload 交给会话处理，界面在状态回调中刷新
func (w *Window) Upload(ctx context.Context, path string) error {
	if err := w.session.Upload(ctx, path); err != nil {
		utils.Logger.Error("upload failed", zap.String("path", path), zap.Error(err))
		return err
	}
	return nil
}

// refresh 根据会话快照重绘缩略图、当前图像与状态栏
func (w *Window) refresh() {
	snap := w.session.Snapshot()

	w.thumbs = snap.Images
	w.list.Refresh()

	w.status.SetText("状态: " + snap.State)
	w.zoomLabel.SetText(fmt.Sprintf("%.0f%%", snap.Zoom*100))
	if snap.CurrentID == "" {
		w.count.SetText("")
		return
	}
	w.count.SetText(fmt.Sprintf("建筑数量: %d", snap.Count))
	if snap.ShowingRaw {
		w.toggleBtn.SetText("显示检测结果")
	} else {
		w.toggleBtn.SetText("显示原图")
	}

	img, err := w.session.View()
	if err != nil {
		utils.Logger.Warn("failed to render view", zap.Error(err))
		return
	}
	w.showImage(img)
}

func (w *Window) showImage(img image.Image) {
	size := img.Bounds().Size()
	w.image.Image = img
	w.image.SetMinSize(fyne.NewSize(float32(size.X), float32(size.Y)))
	w.image.Refresh()
	w.scroll.Refresh()
}
