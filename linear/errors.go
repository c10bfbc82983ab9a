package linear

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/hhyanyan/bbagraph/key"
)

var (
	// ErrDimensionMismatch 表示分块尺寸不一致。
	ErrDimensionMismatch = errors.New("linear: dimension mismatch")
	// ErrIncompleteOrdering 表示消元顺序漏掉了图中的变量。
	ErrIncompleteOrdering = errors.New("linear: ordering does not cover all variables")
	// ErrMissingVariable 表示求解时缺少所需的值。
	ErrMissingVariable = errors.New("linear: missing variable")
)

// IndeterminantError 表示某变量不受约束，分解中它的块奇异。
type IndeterminantError struct {
	Key key.Key
}

func (e *IndeterminantError) Error() string {
	return fmt.Sprintf("linear: indeterminant system at variable %s", e.Key)
}
