package nonlinear

import (
	"math"
	"sync/atomic"
	"time"
)

// MetricsCollector 接收优化器事件，internal/metrics 提供 Prometheus 实现。
type MetricsCollector interface {
	// RecordLinearize 在每次线性化图之后调用。
	RecordLinearize(factors int, duration time.Duration)

	// RecordIteration 在每次试探步长后调用，传入之后的误差和所试的阻尼。
	RecordIteration(accepted bool, errorValue, lambda float64)

	// RecordStateChange 在每次状态变化时调用。
	RecordStateChange(from, to State)
}

// NoopMetricsCollector 丢弃所有事件。
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordLinearize(int, time.Duration)     {}
func (NoopMetricsCollector) RecordIteration(bool, float64, float64) {}
func (NoopMetricsCollector) RecordStateChange(State, State)         {}

// BasicMetricsCollector 在内存中计数。
type BasicMetricsCollector struct {
	Linearizations atomic.Int64
	LinearizeNanos atomic.Int64
	AcceptedSteps  atomic.Int64
	RejectedSteps  atomic.Int64
	StateChanges   atomic.Int64
	lastErrorBits  atomic.Uint64
	lastLambdaBits atomic.Uint64
	lastState      atomic.Int32
}

// RecordLinearize 实现 MetricsCollector。
func (b *BasicMetricsCollector) RecordLinearize(factors int, duration time.Duration) {
	b.Linearizations.Add(1)
	b.LinearizeNanos.Add(duration.Nanoseconds())
}

// RecordIteration 实现 MetricsCollector。
func (b *BasicMetricsCollector) RecordIteration(accepted bool, errorValue, lambda float64) {
	if accepted {
		b.AcceptedSteps.Add(1)
	} else {
		b.RejectedSteps.Add(1)
	}
	b.lastErrorBits.Store(math.Float64bits(errorValue))
	b.lastLambdaBits.Store(math.Float64bits(lambda))
}

// RecordStateChange 实现 MetricsCollector。
func (b *BasicMetricsCollector) RecordStateChange(_, to State) {
	b.StateChanges.Add(1)
	b.lastState.Store(int32(to))
}

// GetStats 返回当前指标的快照。
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		Linearizations: b.Linearizations.Load(),
		LinearizeNanos: b.LinearizeNanos.Load(),
		AcceptedSteps:  b.AcceptedSteps.Load(),
		RejectedSteps:  b.RejectedSteps.Load(),
		StateChanges:   b.StateChanges.Load(),
		LastError:      math.Float64frombits(b.lastErrorBits.Load()),
		LastLambda:     math.Float64frombits(b.lastLambdaBits.Load()),
		LastState:      State(b.lastState.Load()),
	}
}

// BasicMetricsStats 是 BasicMetricsCollector 状态的快照。
type BasicMetricsStats struct {
	Linearizations int64
	LinearizeNanos int64
	AcceptedSteps  int64
	RejectedSteps  int64
	StateChanges   int64
	LastError      float64
	LastLambda     float64
	LastState      State
}
