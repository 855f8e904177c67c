package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Dataset   DatasetConfig   `mapstructure:"dataset"`
	Tiling    TilingConfig    `mapstructure:"tiling"`
	Labels    LabelsConfig    `mapstructure:"labels"`
	Inference InferenceConfig `mapstructure:"inference"`
	Viewer    ViewerConfig    `mapstructure:"viewer"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	UploadDir    string   `mapstructure:"upload_dir"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

// DatasetConfig 描述 <base>/<split> 与 <base>/<split>_labels 的数据集目录布局
type DatasetConfig struct {
	BaseDir         string   `mapstructure:"base_dir"`
	Splits          []string `mapstructure:"splits"`
	MaskSuffix      string   `mapstructure:"mask_suffix"`
	TileImageSuffix string   `mapstructure:"tile_image_suffix"`
	TileMaskSuffix  string   `mapstructure:"tile_mask_suffix"`
	LabelSuffix     string   `mapstructure:"label_suffix"`
	DescriptorName  string   `mapstructure:"descriptor_name"`
	Workers         int      `mapstructure:"workers"`
}

type TilingConfig struct {
	TileSize  int    `mapstructure:"tile_size"`
	GridCount int    `mapstructure:"grid_count"`
	SplitDir  string `mapstructure:"split_dir"`
}

type LabelsConfig struct {
	ClassID     int      `mapstructure:"class_id"`
	ClassNames  []string `mapstructure:"class_names"`
	MorphKernel int      `mapstructure:"morph_kernel"`
}

type InferenceConfig struct {
	ModelPath           string  `mapstructure:"model_path"`
	SharedLibPath       string  `mapstructure:"shared_lib_path"`
	InputSize           int     `mapstructure:"input_size"`
	ConfidenceThreshold float32 `mapstructure:"confidence_threshold"`
	NMSThreshold        float32 `mapstructure:"nms_threshold"`
	IntraOpThreads      int     `mapstructure:"intra_op_threads"`
	OutputDir           string  `mapstructure:"output_dir"`
	SaveOverlays        bool    `mapstructure:"save_overlays"`
	OverlayColor        string  `mapstructure:"overlay_color"`
	OverlayThickness    int     `mapstructure:"overlay_thickness"`
	MaxConcurrent       int     `mapstructure:"max_concurrent"`
	QueueTimeout        int     `mapstructure:"queue_timeout"`
	MatchIoU            float64 `mapstructure:"match_iou"`
}

type ViewerConfig struct {
	Width    int     `mapstructure:"width"`
	Height   int     `mapstructure:"height"`
	MinZoom  float64 `mapstructure:"min_zoom"`
	MaxZoom  float64 `mapstructure:"max_zoom"`
	ZoomStep float64 `mapstructure:"zoom_step"`
}

// Load 从 YAML 文件加载配置，环境变量 BUILDINGKIT_* 可覆盖文件中的值
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("BUILDINGKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// New 使用默认配置路径加载配置
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		// 如果加载失败，返回默认配置
		return Default()
	}
	return cfg
}

// Validate 检查会破坏切片几何或缩放范围的取值
func (c *Config) Validate() error {
	if c.Tiling.TileSize <= 0 {
		return fmt.Errorf("tiling.tile_size must be positive, got %d", c.Tiling.TileSize)
	}
	if c.Tiling.GridCount <= 0 {
		return fmt.Errorf("tiling.grid_count must be positive, got %d", c.Tiling.GridCount)
	}
	if c.Viewer.MinZoom <= 0 || c.Viewer.MinZoom > c.Viewer.MaxZoom {
		return fmt.Errorf("invalid zoom range [%g, %g]", c.Viewer.MinZoom, c.Viewer.MaxZoom)
	}
	if c.Inference.InputSize%32 != 0 {
		return fmt.Errorf("inference.input_size must be a multiple of 32, got %d", c.Inference.InputSize)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("upload.max_size", d.Upload.MaxSize)
	v.SetDefault("upload.upload_dir", d.Upload.UploadDir)
	v.SetDefault("upload.allowed_types", d.Upload.AllowedTypes)

	v.SetDefault("dataset.base_dir", d.Dataset.BaseDir)
	v.SetDefault("dataset.splits", d.Dataset.Splits)
	v.SetDefault("dataset.mask_suffix", d.Dataset.MaskSuffix)
	v.SetDefault("dataset.tile_image_suffix", d.Dataset.TileImageSuffix)
	v.SetDefault("dataset.tile_mask_suffix", d.Dataset.TileMaskSuffix)
	v.SetDefault("dataset.label_suffix", d.Dataset.LabelSuffix)
	v.SetDefault("dataset.descriptor_name", d.Dataset.DescriptorName)
	v.SetDefault("dataset.workers", d.Dataset.Workers)

	v.SetDefault("tiling.tile_size", d.Tiling.TileSize)
	v.SetDefault("tiling.grid_count", d.Tiling.GridCount)
	v.SetDefault("tiling.split_dir", d.Tiling.SplitDir)

	v.SetDefault("labels.class_id", d.Labels.ClassID)
	v.SetDefault("labels.class_names", d.Labels.ClassNames)
	v.SetDefault("labels.morph_kernel", d.Labels.MorphKernel)

	v.SetDefault("inference.model_path", d.Inference.ModelPath)
	v.SetDefault("inference.shared_lib_path", d.Inference.SharedLibPath)
	v.SetDefault("inference.input_size", d.Inference.InputSize)
	v.SetDefault("inference.confidence_threshold", d.Inference.ConfidenceThreshold)
	v.SetDefault("inference.nms_threshold", d.Inference.NMSThreshold)
	v.SetDefault("inference.intra_op_threads", d.Inference.IntraOpThreads)
	v.SetDefault("inference.output_dir", d.Inference.OutputDir)
	v.SetDefault("inference.save_overlays", d.Inference.SaveOverlays)
	v.SetDefault("inference.overlay_color", d.Inference.OverlayColor)
	v.SetDefault("inference.overlay_thickness", d.Inference.OverlayThickness)
	v.SetDefault("inference.max_concurrent", d.Inference.MaxConcurrent)
	v.SetDefault("inference.queue_timeout", d.Inference.QueueTimeout)
	v.SetDefault("inference.match_iou", d.Inference.MatchIoU)

	v.SetDefault("viewer.width", d.Viewer.Width)
	v.SetDefault("viewer.height", d.Viewer.Height)
	v.SetDefault("viewer.min_zoom", d.Viewer.MinZoom)
	v.SetDefault("viewer.max_zoom", d.Viewer.MaxZoom)
	v.SetDefault("viewer.zoom_step", d.Viewer.ZoomStep)
}

// Default 返回内置默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":8080",
			Mode:         "debug",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:      50 * 1024 * 1024,
			UploadDir:    "./uploads",
			AllowedTypes: []string{"image/jpeg", "image/png", "image/jpg", "image/tiff", "image/bmp"},
		},
		Dataset: DatasetConfig{
			BaseDir:         "datasets/data/png",
			Splits:          []string{"train", "val", "test"},
			MaskSuffix:      "_labels",
			TileImageSuffix: "_split_and_txt",
			TileMaskSuffix:  "_split_labels",
			LabelSuffix:     "_split_and_txt",
			DescriptorName:  "dataset.yaml",
			Workers:         4,
		},
		Tiling: TilingConfig{
			TileSize:  512,
			GridCount: 3,
			SplitDir:  "splits",
		},
		Labels: LabelsConfig{
			ClassID:     0,
			ClassNames:  []string{"building"},
			MorphKernel: 0,
		},
		Inference: InferenceConfig{
			ModelPath:           "runs/detect/train_experiment3/weights/best.onnx",
			SharedLibPath:       "",
			InputSize:           512,
			ConfidenceThreshold: 0.25,
			NMSThreshold:        0.45,
			IntraOpThreads:      4,
			OutputDir:           "output",
			SaveOverlays:        true,
			OverlayColor:        "#00FF00",
			OverlayThickness:    2,
			MaxConcurrent:       2,
			QueueTimeout:        60,
			MatchIoU:            0.5,
		},
		Viewer: ViewerConfig{
			Width:    1200,
			Height:   800,
			MinZoom:  0.2,
			MaxZoom:  2.0,
			ZoomStep: 0.1,
		},
	}
}
