package nonlinear

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/hhyanyan/bbagraph/key"
)

var (
	// ErrKeyExists 表示插入的键已存在。
	ErrKeyExists = errors.New("nonlinear: key already exists")
	// ErrNotOptimized 表示优化器尚未给出估计就请求边缘分布。
	ErrNotOptimized = errors.New("nonlinear: not optimized")
	// ErrLambdaExceeded 表示阻尼超过上限仍找不到不增大误差的步长。
	ErrLambdaExceeded = errors.New("nonlinear: lambda exceeded upper bound")
)

// MissingKeyError 表示 Values 中缺少某变量。
type MissingKeyError struct {
	Key key.Key
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("nonlinear: missing key %s", e.Key)
}

// TypeMismatchError 表示变量存储的类型与请求的不同。
type TypeMismatchError struct {
	Key      key.Key
	Expected string
	Actual   string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("nonlinear: key %s holds %s, not %s", e.Key, e.Actual, e.Expected)
}

// SolveError 表示阻尼也无法正则化的线性求解失败。cause 为
// *linear.IndeterminantError 或 ErrLambdaExceeded，可用 errors.Unwrap 取得。
type SolveError struct {
	Iteration int
	Lambda    float64
	cause     error
}

func (e *SolveError) Error() string {
	return fmt.Sprintf("nonlinear: solve failed at iteration %d (lambda %g): %v", e.Iteration, e.Lambda, e.cause)
}

func (e *SolveError) Unwrap() error { return e.cause }
