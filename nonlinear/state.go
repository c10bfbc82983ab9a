package nonlinear

// State 是优化器的生命周期状态。
type State int

const (
	// StateInitialized 是首次 Iterate 之前的状态。
	StateInitialized State = iota
	// StateIterating 表示仍在迭代。
	StateIterating
	// StateConverged 表示满足了收敛条件。
	StateConverged
	// StateFailed 表示阻尼无法给出可接受的步长。
	StateFailed
	// StateExhausted 表示先达到了 MaxIterations。
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateIterating:
		return "iterating"
	case StateConverged:
		return "converged"
	case StateFailed:
		return "failed"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Terminal 判断 Iterate 是否已无事可做。
func (s State) Terminal() bool {
	return s == StateConverged || s == StateFailed || s == StateExhausted
}
