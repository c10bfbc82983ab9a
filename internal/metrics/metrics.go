// Package metrics 以 Prometheus 指标导出优化器进度。
package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hhyanyan/bbagraph/nonlinear"
)

// Collector 在 Prometheus 指标上实现 nonlinear.MetricsCollector。
type Collector struct {
	linearizeDuration prometheus.Histogram
	linearizedFactors prometheus.Gauge
	steps             *prometheus.CounterVec
	errorValue        prometheus.Gauge
	lambda            prometheus.Gauge
	transitions       *prometheus.CounterVec
	state             *prometheus.GaugeVec
}

var _ nonlinear.MetricsCollector = (*Collector)(nil)

var states = []nonlinear.State{
	nonlinear.StateInitialized,
	nonlinear.StateIterating,
	nonlinear.StateConverged,
	nonlinear.StateFailed,
	nonlinear.StateExhausted,
}

// New 创建 collector 并把指标注册到 reg。
func New(namespace string, reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		linearizeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "linearize_duration_seconds",
			Help:      "Time to linearize the factor graph",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		linearizedFactors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "linearized_factors",
			Help:      "Number of factors in the last linearization",
		}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Levenberg-Marquardt trial steps by outcome",
		}, []string{"result"}),
		errorValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "error",
			Help:      "Current nonlinear error 0.5*sum of squared whitened residuals",
		}),
		lambda: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lambda",
			Help:      "Damping of the last trial step",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Optimizer state transitions",
		}, []string{"from", "to"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "1 for the current optimizer state",
		}, []string{"state"}),
	}
	for _, m := range []prometheus.Collector{
		c.linearizeDuration, c.linearizedFactors, c.steps, c.errorValue,
		c.lambda, c.transitions, c.state,
	} {
		if err := reg.Register(m); err != nil {
			return nil, errors.Wrap(err, "register metric")
		}
	}
	c.setState(nonlinear.StateInitialized)
	return c, nil
}

func (c *Collector) RecordLinearize(factors int, d time.Duration) {
	c.linearizeDuration.Observe(d.Seconds())
	c.linearizedFactors.Set(float64(factors))
}

func (c *Collector) RecordIteration(accepted bool, errorValue, lambda float64) {
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	c.steps.WithLabelValues(result).Inc()
	c.errorValue.Set(errorValue)
	c.lambda.Set(lambda)
}

func (c *Collector) RecordStateChange(from, to nonlinear.State) {
	c.transitions.WithLabelValues(from.String(), to.String()).Inc()
	c.setState(to)
}

func (c *Collector) setState(s nonlinear.State) {
	for _, st := range states {
		v := 0.0
		if st == s {
			v = 1
		}
		c.state.WithLabelValues(st.String()).Set(v)
	}
}

// WriteTextfile 以文本格式写出 g 收集的全部指标，供 node exporter 的 textfile collector 使用。
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return errors.Wrap(prometheus.WriteToTextfile(path, g), "write metrics")
}
