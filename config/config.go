package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/chaos-io/rembg/matte"
	"github.com/chaos-io/rembg/matte/oracle"
	"github.com/chaos-io/rembg/util/logging"
	"gopkg.in/yaml.v3"
)

const (
	BackendONNX     = "onnx"
	BackendRemote   = "remote"
	BackendConstant = "constant"
)

type Config struct {
	Server Server `yaml:"server"`
	Log    Log    `yaml:"log"`
	Oracle Oracle `yaml:"oracle"`
	Matte  Matte  `yaml:"matte"`
}

type Server struct {
	Addr         string `yaml:"addr"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`

	// ProbeSchedule 是 cron 表达式，为空时不做定时预热
	ProbeSchedule   string        `yaml:"probe_schedule"`
	CORS            bool          `yaml:"cors"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Log struct {
	Level            string `yaml:"level"`
	JSON             bool   `yaml:"json"`
	logging.Rotation `yaml:",inline"`
}

type Oracle struct {
	Backend string `yaml:"backend"`
	// Binding 是预设名；Custom 不为空时优先使用
	Binding  string              `yaml:"binding"`
	Custom   *oracle.Binding     `yaml:"custom_binding"`
	Constant float32             `yaml:"constant"`
	ONNX     oracle.ONNXConfig   `yaml:"onnx"`
	Remote   oracle.RemoteConfig `yaml:"remote"`
}

type Matte struct {
	matte.Options `yaml:",inline"`

	// Fill 是 contain 填充色，#RRGGBB 或 #RRGGBBAA。
	// 推理输入不含 alpha，只有 RGB 生效
	Fill        string `yaml:"fill"`
	Compression string `yaml:"compression"`
}

func Default() *Config {
	return &Config{
		Server: Server{
			Addr:            ":8080",
			MaxBodyBytes:    20 << 20,
			ProbeSchedule:   "@every 1m",
			CORS:            true,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: Log{Level: "INFO"},
		Oracle: Oracle{
			Backend: BackendONNX,
			Binding: "u2net",
			ONNX: oracle.ONNXConfig{
				ModelPath:  "models/u2net.onnx",
				InputName:  "input.1",
				OutputName: "1959",
			},
			Remote: oracle.RemoteConfig{Timeout: 30 * time.Second},
		},
		Matte: Matte{
			Options:     matte.DefaultOptions(),
			Fill:        "#00000000",
			Compression: "default",
		},
	}
}

// Load 在默认配置上叠加 YAML 文件；path 为空时直接返回默认配置
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Oracle.ResolveBinding(); err != nil {
		errs = append(errs, err)
	}
	switch c.Oracle.Backend {
	case BackendONNX:
		if c.Oracle.ONNX.ModelPath == "" || c.Oracle.ONNX.InputName == "" || c.Oracle.ONNX.OutputName == "" {
			errs = append(errs, errors.New("oracle.onnx needs model_path, input_name and output_name"))
		}
	case BackendRemote:
		if c.Oracle.Remote.URL == "" {
			errs = append(errs, errors.New("oracle.remote.url is required"))
		}
	case BackendConstant:
		if c.Oracle.Constant < 0 || c.Oracle.Constant > 1 {
			errs = append(errs, fmt.Errorf("oracle.constant %v out of [0,1]", c.Oracle.Constant))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown oracle.backend %q", c.Oracle.Backend))
	}
	if err := c.Matte.Options.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Matte.FillColor(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Matte.CompressionLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (l Log) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

func (o Oracle) ResolveBinding() (oracle.Binding, error) {
	if o.Custom != nil {
		if err := o.Custom.Validate(); err != nil {
			return oracle.Binding{}, fmt.Errorf("oracle.custom_binding: %w", err)
		}
		return *o.Custom, nil
	}
	return oracle.Preset(o.Binding)
}

func (m Matte) FillColor() (color.NRGBA, error) {
	s := strings.TrimPrefix(m.Fill, "#")
	if s == "" {
		return color.NRGBA{}, nil
	}
	if len(s) != 6 && len(s) != 8 {
		return color.NRGBA{}, fmt.Errorf("matte.fill %q: want #RRGGBB or #RRGGBBAA", m.Fill)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("matte.fill %q: %w", m.Fill, err)
	}
	c := color.NRGBA{R: b[0], G: b[1], B: b[2], A: 255}
	if len(b) == 4 {
		c.A = b[3]
	}
	return c, nil
}

var compressionLevels = map[string]png.CompressionLevel{
	"":                 png.DefaultCompression,
	"default":          png.DefaultCompression,
	"none":             png.NoCompression,
	"best-speed":       png.BestSpeed,
	"best-compression": png.BestCompression,
}

func (m Matte) CompressionLevel() (png.CompressionLevel, error) {
	lv, ok := compressionLevels[m.Compression]
	if !ok {
		return 0, fmt.Errorf("unknown matte.compression %q", m.Compression)
	}
	return lv, nil
}
