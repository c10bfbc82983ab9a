package geometry

import "fmt"

// CheiralityError 表示点位于相机后方。
type CheiralityError struct {
	Depth float64
}

func (e *CheiralityError) Error() string {
	return fmt.Sprintf("cheirality: point behind camera (depth %g)", e.Depth)
}
