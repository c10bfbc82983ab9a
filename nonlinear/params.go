package nonlinear

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hhyanyan/bbagraph/linear"
)

// OrderingType 选择消元顺序的启发式。
type OrderingType string

const (
	// OrderingMinDegree 为贪心最小度，光束法平差中先消点后消相机。
	OrderingMinDegree OrderingType = "mindegree"
	// OrderingNatural 按键升序消元。
	OrderingNatural OrderingType = "natural"
)

// Compute 返回线性系统的消元顺序。
func (t OrderingType) Compute(gfg *linear.GaussianFactorGraph) linear.Ordering {
	if t == OrderingNatural {
		return linear.NaturalOrdering(gfg.KeySets())
	}
	return linear.MinDegreeOrdering(gfg.KeySets())
}

// LevenbergMarquardtParams 控制优化器。
type LevenbergMarquardtParams struct {
	// MaxIterations 限制接受的步数。
	MaxIterations int `yaml:"max_iterations"`
	// 误差相对下降量低于 RelativeErrorTol 时停止。
	RelativeErrorTol float64 `yaml:"relative_error_tol"`
	// 误差绝对下降量低于 AbsoluteErrorTol 时停止。
	AbsoluteErrorTol float64 `yaml:"absolute_error_tol"`
	// 总误差低于 ErrorTol 时停止。
	ErrorTol float64 `yaml:"error_tol"`

	LambdaInitial    float64 `yaml:"lambda_initial"`
	LambdaFactor     float64 `yaml:"lambda_factor"`
	LambdaUpperBound float64 `yaml:"lambda_upper_bound"`
	LambdaLowerBound float64 `yaml:"lambda_lower_bound"`

	// DiagonalDamping 用限制在 [MinDiagonal, MaxDiagonal] 内的 diag(J'J) 代替单位阵缩放阻尼。
	DiagonalDamping bool    `yaml:"diagonal_damping"`
	MinDiagonal     float64 `yaml:"min_diagonal"`
	MaxDiagonal     float64 `yaml:"max_diagonal"`

	Ordering OrderingType `yaml:"ordering"`
	// Workers 是线性化所用的 goroutine 数。
	Workers int `yaml:"workers"`

	Logger  logrus.FieldLogger `yaml:"-"`
	Metrics MetricsCollector   `yaml:"-"`
}

// DefaultLevenbergMarquardtParams 返回默认参数。
func DefaultLevenbergMarquardtParams() LevenbergMarquardtParams {
	return LevenbergMarquardtParams{
		MaxIterations:    100,
		RelativeErrorTol: 1e-5,
		AbsoluteErrorTol: 1e-5,
		ErrorTol:         0,
		LambdaInitial:    1e-5,
		LambdaFactor:     10,
		LambdaUpperBound: 1e5,
		LambdaLowerBound: 0,
		MinDiagonal:      1e-6,
		MaxDiagonal:      1e32,
		Ordering:         OrderingMinDegree,
		Workers:          1,
	}
}

// Validate 检查参数是否自洽。
func (p LevenbergMarquardtParams) Validate() error {
	if p.MaxIterations <= 0 {
		return errors.Errorf("max_iterations must be positive, got %d", p.MaxIterations)
	}
	if p.RelativeErrorTol < 0 || p.AbsoluteErrorTol < 0 || p.ErrorTol < 0 {
		return errors.New("error tolerances must not be negative")
	}
	if p.LambdaInitial <= 0 {
		return errors.Errorf("lambda_initial must be positive, got %g", p.LambdaInitial)
	}
	if p.LambdaFactor <= 1 {
		return errors.Errorf("lambda_factor must be greater than 1, got %g", p.LambdaFactor)
	}
	if p.LambdaLowerBound < 0 || p.LambdaUpperBound <= p.LambdaLowerBound {
		return errors.Errorf("lambda bounds [%g, %g] are invalid", p.LambdaLowerBound, p.LambdaUpperBound)
	}
	if p.LambdaInitial > p.LambdaUpperBound {
		return errors.Errorf("lambda_initial %g exceeds lambda_upper_bound %g", p.LambdaInitial, p.LambdaUpperBound)
	}
	if p.DiagonalDamping && (p.MinDiagonal <= 0 || p.MaxDiagonal < p.MinDiagonal) {
		return errors.Errorf("diagonal bounds [%g, %g] are invalid", p.MinDiagonal, p.MaxDiagonal)
	}
	switch p.Ordering {
	case "", OrderingMinDegree, OrderingNatural:
	default:
		return errors.Errorf("unknown ordering %q", p.Ordering)
	}
	if p.Workers < 0 {
		return errors.Errorf("workers must not be negative, got %d", p.Workers)
	}
	return nil
}

func (p LevenbergMarquardtParams) logger() logrus.FieldLogger {
	if p.Logger != nil {
		return p.Logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func (p LevenbergMarquardtParams) metrics() MetricsCollector {
	if p.Metrics != nil {
		return p.Metrics
	}
	return NoopMetricsCollector{}
}
