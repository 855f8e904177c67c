package service

import (
	"context"
	"image"
	"os"
	"sync"
	"time"

	"github.com/TIANLI0/BuildingKit/config"
	"github.com/TIANLI0/BuildingKit/model"
	"github.com/TIANLI0/BuildingKit/utils"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

var (
	ortOnce    sync.Once
	ortInitErr error
)

// initRuntime ONNX Runtime 环境在进程内只能初始化一次
func initRuntime(libPath string) error {
	ortOnce.Do(func() {
		if libPath != "" {
			if _, err := os.Stat(libPath); err != nil {
				ortInitErr = errors.Wrapf(err, "onnxruntime library not found at %s", libPath)
				return
			}
			ort.SetSharedLibraryPath(libPath)
		}
		ortInitErr = errors.Wrap(ort.InitializeEnvironment(), "failed to initialize onnxruntime")
	})
	return ortInitErr
}

// ONNXDetector 基于 ONNX Runtime 的 YOLOv8 检测器
type ONNXDetector struct {
	session      *ort.AdvancedSession
	input        *ort.Tensor[float32]
	output       *ort.Tensor[float32]
	inputSize    int
	numClasses   int
	classNames   []string
	confidence   float32
	nmsThreshold float32
	mu           sync.Mutex
}

// NewONNXDetector 加载模型。输入为 images [1,3,S,S]，输出为 output0 [1,4+nc,A]。
func NewONNXDetector(cfg config.InferenceConfig, classNames []string) (*ONNXDetector, error) {
	if err := initRuntime(cfg.SharedLibPath); err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "model not found at %s", cfg.ModelPath)
	}

	numClasses := len(classNames)
	if _, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath); err == nil && len(outputs) > 0 {
		if dims := outputs[0].Dimensions; len(dims) == 3 && dims[1] > 4 {
			numClasses = int(dims[1]) - 4
		}
	}
	if numClasses <= 0 {
		return nil, errors.New("model class count is unknown")
	}

	size := int64(cfg.InputSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create input tensor")
	}

	anchors := int64(AnchorCount(cfg.InputSize))
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+numClasses), anchors))
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "failed to create output tensor")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "failed to create session options")
	}
	defer options.Destroy()

	if cfg.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			utils.Logger.Warn("failed to set intra-op threads", zap.Error(err))
		}
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "failed to create onnxruntime session")
	}

	utils.Logger.Info("onnx detector loaded",
		zap.String("model", cfg.ModelPath),
		zap.Int("input_size", cfg.InputSize),
		zap.Int("classes", numClasses))

	return &ONNXDetector{
		session:      session,
		input:        input,
		output:       output,
		inputSize:    cfg.InputSize,
		numClasses:   numClasses,
		classNames:   classNames,
		confidence:   cfg.ConfidenceThreshold,
		nmsThreshold: cfg.NMSThreshold,
	}, nil
}

// Detect 检测单张图像，框坐标相对于 img 自身尺寸
func (d *ONNXDetector) Detect(ctx context.Context, img image.Image) ([]model.Detection, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		return nil, errors.New("detector is closed")
	}

	start := time.Now()
	fillInput(img, d.inputSize, d.input.GetData())

	if err := d.session.Run(); err != nil {
		return nil, errors.Wrap(err, "failed to run inference")
	}

	bounds := img.Bounds()
	cands, err := decodeOutput(d.output.GetData(), d.numClasses, d.inputSize,
		image.Point{X: bounds.Dx(), Y: bounds.Dy()}, d.confidence)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode output")
	}
	detections := toDetections(nms(cands, d.nmsThreshold), d.classNames)

	utils.Logger.Debug("inference done",
		zap.Int("candidates", len(cands)),
		zap.Int("detections", len(detections)),
		zap.Duration("elapsed", time.Since(start)))

	return detections, nil
}

// Close 释放会话与张量
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		return nil
	}
	err := d.session.Destroy()
	d.input.Destroy()
	d.output.Destroy()
	d.session = nil
	return err
}

// fillInput 双线性缩放到 size×size，按 CHW 写入归一化的 RGB
func fillInput(img image.Image, size int, data []float32) {
	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)
	b := resized.Bounds()

	channel := size * size
	red := data[0:channel]
	green := data[channel : 2*channel]
	blue := data[2*channel : 3*channel]

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := resized.At(x, y).RGBA()
			red[i] = float32(r>>8) / 255.0
			green[i] = float32(g>>8) / 255.0
			blue[i] = float32(bl>>8) / 255.0
			i++
		}
	}
}
