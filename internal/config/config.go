// Package config 加载 bba 命令的设置：优化器参数、日志和指标输出。
package config

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/hhyanyan/bbagraph/nonlinear"
)

// Config 是顶层配置。
type Config struct {
	Optimizer nonlinear.LevenbergMarquardtParams `yaml:"optimizer"`
	Solve     SolveConfig                        `yaml:"solve"`
	Log       LogConfig                          `yaml:"log"`
	Metrics   MetricsConfig                      `yaml:"metrics"`
}

// SolveConfig 控制区域网平差的输出内容。
type SolveConfig struct {
	// Precision 计算每个相机和点的边缘协方差。
	Precision bool `yaml:"precision"`
	// OutputDir 存放报告，为空时使用工程目录。
	OutputDir string `yaml:"output_dir"`
}

// LogConfig 选择 logrus 的级别和格式。
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig 控制运行结束后写出的 Prometheus 文本文件。
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path"`
	Namespace    string `yaml:"namespace"`
}

// Default 返回内置配置。
func Default() Config {
	return Config{
		Optimizer: nonlinear.DefaultLevenbergMarquardtParams(),
		Solve:     SolveConfig{Precision: true},
		Log:       LogConfig{Level: "info", Format: "text"},
		Metrics:   MetricsConfig{Namespace: "bba"},
	}
}

// Load 依次由默认值、path 处的 YAML 文件（若给出）和 BBA_* 环境变量构造配置，
// 并检查结果。
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse %s", path)
		}
	}
	if err := fromEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

func fromEnv(cfg *Config) error {
	if v := os.Getenv("BBA_MAX_ITERATIONS"); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "BBA_MAX_ITERATIONS")
		}
		cfg.Optimizer.MaxIterations = i
	}
	if v := os.Getenv("BBA_LAMBDA_INITIAL"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrap(err, "BBA_LAMBDA_INITIAL")
		}
		cfg.Optimizer.LambdaInitial = f
	}
	if v := os.Getenv("BBA_WORKERS"); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "BBA_WORKERS")
		}
		cfg.Optimizer.Workers = i
	}
	if v := os.Getenv("BBA_ORDERING"); v != "" {
		cfg.Optimizer.Ordering = nonlinear.OrderingType(v)
	}
	if v := os.Getenv("BBA_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("BBA_METRICS_TEXTFILE"); v != "" {
		cfg.Metrics.TextfilePath = v
	}
	return nil
}

// Validate 检查每一节。
func (c Config) Validate() error {
	if err := c.Optimizer.Validate(); err != nil {
		return errors.Wrap(err, "optimizer")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return errors.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Logger 返回按 c 配置的 logrus logger。
func (c LogConfig) Logger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetLevel(level)
	if c.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l, nil
}
